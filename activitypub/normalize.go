package activitypub

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/deemkeen/fedi/util"
	"github.com/piprate/json-gold/ld"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"
)

//go:embed contexts/activitystreams.jsonld
var activityStreamsDoc []byte

//go:embed contexts/security-v1.jsonld
var securityDoc []byte

// Activity is a compacted inbound activity.
type Activity struct {
	ID      string
	Type    string
	Actor   string
	Object  interface{} // string IRI or embedded object
	To      []string
	CC      []string
	DedupID string
	Raw     map[string]interface{}
}

func (a *Activity) ObjectID() string {
	return str(a.Object)
}

// ObjectType is empty when the object is a bare IRI.
func (a *Activity) ObjectType() string {
	if m := obj(a.Object); m != nil {
		return str(m["type"])
	}
	return ""
}

func (a *Activity) ObjectMap() map[string]interface{} {
	return obj(a.Object)
}

// Normalizer compacts documents against a fixed ActivityStreams + security
// context. Contexts are served from memory; unknown remote contexts resolve
// to an empty one, so nothing is fetched while normalizing.
type Normalizer struct {
	proc    *ld.JsonLdProcessor
	opts    *ld.JsonLdOptions
	context map[string]interface{}
}

func NewNormalizer() (*Normalizer, error) {
	loader, err := newStaticLoader()
	if err != nil {
		return nil, err
	}
	opts := ld.NewJsonLdOptions("")
	opts.DocumentLoader = loader
	opts.CompactArrays = true

	return &Normalizer{
		proc: ld.NewJsonLdProcessor(),
		opts: opts,
		context: map[string]interface{}{
			"@context": []interface{}{ActivityStreamsContext, SecurityContext},
		},
	}, nil
}

// NormalizeBytes decodes and normalizes a request body.
func (n *Normalizer) NormalizeBytes(body []byte) (*Activity, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, invalid("body is not a JSON object: %v", err)
	}
	return n.Normalize(doc)
}

func (n *Normalizer) Normalize(doc map[string]interface{}) (*Activity, error) {
	if doc == nil {
		return nil, invalid("empty document")
	}

	compacted, err := n.Compact(doc)
	if err != nil {
		return nil, err
	}

	activity := &Activity{
		ID:     str(compacted["id"]),
		Type:   str(compacted["type"]),
		Actor:  str(compacted["actor"]),
		Object: compacted["object"],
		To:     strs(compacted["to"]),
		CC:     strs(compacted["cc"]),
		Raw:    compacted,
	}
	switch {
	case activity.ID == "":
		return nil, invalid("missing id")
	case activity.Type == "":
		return nil, invalid("missing type")
	case activity.Actor == "":
		return nil, invalid("missing actor")
	}
	activity.DedupID = util.GetHashFromString(activity.ID)
	return activity, nil
}

// Compact runs JSON-LD compaction. Documents without @context are read as
// plain ActivityStreams.
func (n *Normalizer) Compact(doc map[string]interface{}) (map[string]interface{}, error) {
	if _, ok := doc["@context"]; !ok {
		withContext := make(map[string]interface{}, len(doc)+1)
		for k, v := range doc {
			withContext[k] = v
		}
		withContext["@context"] = ActivityStreamsContext
		doc = withContext
	}

	compacted, err := n.proc.Compact(doc, n.context, n.opts)
	if err != nil {
		return nil, invalid("json-ld compaction failed: %v", err)
	}
	return compacted, nil
}

type staticLoader struct {
	docs map[string]interface{}
}

func newStaticLoader() (*staticLoader, error) {
	loader := &staticLoader{docs: map[string]interface{}{}}
	for _, entry := range []struct {
		urls []string
		raw  []byte
	}{
		{[]string{ActivityStreamsContext, ActivityStreamsContext + ".jsonld", "http://www.w3.org/ns/activitystreams"}, activityStreamsDoc},
		{[]string{SecurityContext, "https://w3id.org/security/v1.jsonld"}, securityDoc},
	} {
		var doc interface{}
		if err := json.Unmarshal(entry.raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse embedded context: %w", err)
		}
		for _, u := range entry.urls {
			loader.docs[u] = doc
		}
	}
	return loader, nil
}

func (l *staticLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	doc, ok := l.docs[u]
	if !ok {
		doc = map[string]interface{}{"@context": map[string]interface{}{}}
	}
	return &ld.RemoteDocument{DocumentURL: u, Document: doc}, nil
}
