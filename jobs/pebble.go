package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/pebble"
	"github.com/deemkeen/fedi/domain"
)

var (
	jobPrefix     = []byte("job/")
	jobUpperBound = []byte("job0") // '0' sorts right after '/'
)

// PebbleTransport keeps jobs in a local pebble store, one key per job id.
type PebbleTransport struct {
	db *pebble.DB
	mu sync.Mutex // serializes insert's read-then-write
	*poller
}

// NewPebbleTransport opens the store at path. pebbleOpts may be nil.
func NewPebbleTransport(path string, pebbleOpts *pebble.Options, opts PollOptions, logger *log.Logger) (*PebbleTransport, error) {
	if pebbleOpts == nil {
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, err
		}
		pebbleOpts = &pebble.Options{}
	}
	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}
	t := &PebbleTransport{db: db}
	t.poller = newPoller(t, opts, logger.WithPrefix("pebblequeue"))
	return t, nil
}

func (t *PebbleTransport) Enqueue(ctx context.Context, msg domain.JobMessage) error {
	return t.enqueue(ctx, msg)
}

func (t *PebbleTransport) Run(ctx context.Context, handle HandleFunc) error {
	return t.run(ctx, handle)
}

func (t *PebbleTransport) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

func (t *PebbleTransport) Pending(ctx context.Context) (int, error) {
	it, err := t.iter()
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n, nil
}

func jobKey(id string) []byte {
	return append(append([]byte{}, jobPrefix...), id...)
}

func (t *PebbleTransport) iter() (*pebble.Iterator, error) {
	return t.db.NewIter(&pebble.IterOptions{LowerBound: jobPrefix, UpperBound: jobUpperBound})
}

func (t *PebbleTransport) insert(ctx context.Context, rec record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := jobKey(rec.Msg.Id)
	_, closer, err := t.db.Get(key)
	if err == nil {
		closer.Close()
		return nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	return t.put(rec)
}

func (t *PebbleTransport) put(rec record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.db.Set(jobKey(rec.Msg.Id), value, pebble.Sync)
}

func (t *PebbleTransport) read(id string) (*record, error) {
	value, closer, err := t.db.Get(jobKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *PebbleTransport) due(ctx context.Context, now time.Time, limit int) ([]record, error) {
	it, err := t.iter()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var records []record
	for ok := it.First(); ok && len(records) < limit; ok = it.Next() {
		var rec record
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			t.logger.Error("Skipping unreadable job", "key", string(it.Key()), "err", err)
			continue
		}
		if !rec.NextRunAt.After(now) {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (t *PebbleTransport) remove(ctx context.Context, id string) error {
	return t.db.Delete(jobKey(id), pebble.Sync)
}

func (t *PebbleTransport) reschedule(ctx context.Context, id string, attempts int, next time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.read(id)
	if err != nil || rec == nil {
		return err
	}
	rec.Attempts = attempts
	rec.NextRunAt = next
	return t.put(*rec)
}
