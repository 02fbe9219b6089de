package middleware

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/util"
	"github.com/google/uuid"
)

type actorKey struct{}

var validUsername = regexp.MustCompile(`^[a-z0-9_]{1,30}$`)

// Accounts maps ssh keys to local actors, registering unknown keys.
type Accounts struct {
	db       activitypub.Database
	domain   string
	logger   *log.Logger
	generate func() (*util.RsaKeyPair, error)
}

func NewAccounts(db activitypub.Database, localDomain string, logger *log.Logger) *Accounts {
	return &Accounts{
		db:       db,
		domain:   localDomain,
		logger:   logger.WithPrefix("ssh"),
		generate: util.GeneratePemKeypair,
	}
}

// Ensure returns the actor owning pkHash. A new key gets a new actor named
// after the ssh user when that name is valid and free, or a random one.
func (a *Accounts) Ensure(ctx context.Context, sshUser string, pkHash string) (*domain.Actor, error) {
	acc, err := a.db.ReadAccountByPkHash(ctx, pkHash)
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	if acc != nil {
		actor, err := a.db.ReadActorById(ctx, acc.ActorId)
		if err != nil || actor == nil {
			return nil, fmt.Errorf("account %s has no actor: %v", acc.Id, err)
		}
		return actor, nil
	}

	keys, err := a.generate()
	if err != nil {
		return nil, err
	}

	username := strings.ToLower(sshUser)
	for attempt := 0; attempt < 3; attempt++ {
		if !validUsername.MatchString(username) {
			username = strings.ToLower(util.RandomString(10))
		}
		actor := activitypub.NewLocalActor(a.domain, username, keys)
		err = a.db.CreateLocalActor(ctx, actor, &domain.Account{
			Id:            uuid.New(),
			ActorId:       actor.Id,
			Username:      username,
			PublicKeyHash: pkHash,
		})
		if err == nil {
			a.logger.Info("Registered new account", "username", username)
			return actor, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
		username = ""
	}
	return nil, fmt.Errorf("could not find a free username: %w", err)
}

// AuthMiddleware attaches the session's actor to its context.
func AuthMiddleware(accounts *Accounts) wish.Middleware {
	return func(h ssh.Handler) ssh.Handler {
		return func(s ssh.Session) {
			if s.PublicKey() == nil {
				wish.Fatalln(s, "public key authentication required")
				return
			}
			pkHash := util.PkToHash(util.PublicKeyToString(s.PublicKey()))
			actor, err := accounts.Ensure(s.Context(), s.User(), pkHash)
			if err != nil {
				accounts.logger.Error("Could not resolve account", "user", s.User(), "err", err)
				wish.Fatalln(s, "An error occurred. Please try again later.")
				return
			}
			util.LogPublicKey(accounts.logger, s)
			s.Context().SetValue(actorKey{}, actor)
			h(s)
		}
	}
}

// ActorFrom returns the actor set by AuthMiddleware.
func ActorFrom(ctx context.Context) *domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(*domain.Actor)
	return actor
}
