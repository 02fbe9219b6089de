package middleware

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const defaultDeletionGrace = 24 * time.Hour

// Finger resolves a remote handle to an actor URI.
type Finger interface {
	LookupWebfinger(ctx context.Context, handle string) (string, error)
}

// Console runs one command per ssh session on behalf of the session's
// actor, e.g. `ssh -p 23232 host post hello world`.
type Console struct {
	db       activitypub.Database
	outbox   *activitypub.Outbox
	deletion *activitypub.Deletion
	finger   Finger
	domain   string
	logger   *log.Logger
	now      func() time.Time
}

func NewConsole(db activitypub.Database, outbox *activitypub.Outbox, deletion *activitypub.Deletion, finger Finger, localDomain string, logger *log.Logger) *Console {
	return &Console{
		db:       db,
		outbox:   outbox,
		deletion: deletion,
		finger:   finger,
		domain:   localDomain,
		logger:   logger.WithPrefix("ssh"),
		now:      time.Now,
	}
}

// Middleware executes the session command. It must run after AuthMiddleware.
func (c *Console) Middleware() wish.Middleware {
	return func(h ssh.Handler) ssh.Handler {
		return func(s ssh.Session) {
			actor := ActorFrom(s.Context())
			if actor == nil {
				wish.Fatalln(s, "not signed in")
				return
			}
			if err := c.Run(s.Context(), actor, s.Command(), s, s.Stderr()); err != nil {
				c.logger.Info("Console command failed", "user", actor.Username, "command", s.Command(), "err", err)
				wish.Fatalln(s, "Error:", err)
				return
			}
			h(s)
		}
	}
}

// Run executes args as the actor, writing output to out.
func (c *Console) Run(ctx context.Context, actor *domain.Actor, args []string, out io.Writer, errOut io.Writer) error {
	root := c.command(actor)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}

func (c *Console) command(actor *domain.Actor) *cobra.Command {
	root := &cobra.Command{
		Use:           "fedi",
		Short:         "Operate your fediverse account",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		&cobra.Command{
			Use:   "whoami",
			Short: "Show your account",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.whoami(cmd, actor)
			},
		},
		c.postCommand(actor),
		&cobra.Command{
			Use:   "edit <status-id> <text>...",
			Short: "Replace the text of a note",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseId(args[0])
				if err != nil {
					return err
				}
				status, err := c.outbox.Edit(cmd.Context(), actor, id, strings.Join(args[1:], " "), "")
				if err != nil {
					return err
				}
				cmd.Printf("Edited %s\n", status.URI)
				return nil
			},
		},
		c.statusCommand("delete", "Delete one of your statuses", func(ctx context.Context, id uuid.UUID) error {
			return c.outbox.Delete(ctx, actor, id)
		}),
		c.statusCommand("boost", "Boost a status", func(ctx context.Context, id uuid.UUID) error {
			_, err := c.outbox.Boost(ctx, actor, id)
			return err
		}),
		c.statusCommand("unboost", "Withdraw a boost", func(ctx context.Context, id uuid.UUID) error {
			return c.outbox.Unboost(ctx, actor, id)
		}),
		c.statusCommand("like", "Like a status", func(ctx context.Context, id uuid.UUID) error {
			_, err := c.outbox.Like(ctx, actor, id)
			return err
		}),
		c.statusCommand("unlike", "Withdraw a like", func(ctx context.Context, id uuid.UUID) error {
			return c.outbox.Unlike(ctx, actor, id)
		}),
		&cobra.Command{
			Use:   "follow <user@domain|uri>",
			Short: "Follow an actor",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				uri, err := c.resolveURI(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				follow, err := c.outbox.Follow(cmd.Context(), actor, uri)
				if err != nil {
					return err
				}
				cmd.Printf("Follow of %s is %s\n", uri, follow.Status)
				return nil
			},
		},
		c.actorCommand("unfollow", "Stop following an actor", func(ctx context.Context, other *domain.Actor) error {
			return c.outbox.Unfollow(ctx, actor, other)
		}),
		&cobra.Command{
			Use:   "requests",
			Short: "List pending follow requests",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.requests(cmd, actor)
			},
		},
		c.actorCommand("approve", "Approve a follow request", func(ctx context.Context, other *domain.Actor) error {
			_, err := c.outbox.Approve(ctx, actor, other.Id)
			return err
		}),
		c.actorCommand("reject", "Reject a follow request", func(ctx context.Context, other *domain.Actor) error {
			_, err := c.outbox.Reject(ctx, actor, other.Id)
			return err
		}),
		c.timelineCommand(actor),
		&cobra.Command{
			Use:   "notifications",
			Short: "Show recent notifications",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.notifications(cmd, actor)
			},
		},
		&cobra.Command{
			Use:   "delete-account [duration|now]",
			Short: "Schedule deletion of your account",
			Long:  "Schedule deletion of your account after a grace period (default 24h). `now` deletes right away.",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.deleteAccount(cmd, actor, args)
			},
		},
		&cobra.Command{
			Use:   "cancel-deletion",
			Short: "Cancel a scheduled account deletion",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.deletion.Cancel(cmd.Context(), actor.Id); err != nil {
					return err
				}
				cmd.Println("Deletion cancelled")
				return nil
			},
		},
	)
	return root
}

func (c *Console) postCommand(actor *domain.Actor) *cobra.Command {
	var summary, replyTo, poll string
	var to []string
	var pollFor time.Duration

	cmd := &cobra.Command{
		Use:   "post <text>...",
		Short: "Publish a note or a poll",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := activitypub.Draft{
				Text:         strings.Join(args, " "),
				Summary:      summary,
				InReplyToURI: replyTo,
			}
			for _, target := range to {
				uri, err := c.resolveURI(cmd.Context(), target)
				if err != nil {
					return err
				}
				draft.Direct = append(draft.Direct, uri)
			}
			if poll != "" {
				for _, choice := range strings.Split(poll, ",") {
					if choice = strings.TrimSpace(choice); choice != "" {
						draft.Choices = append(draft.Choices, choice)
					}
				}
				endAt := c.now().Add(pollFor)
				draft.EndAt = &endAt
			}

			status, err := c.outbox.Post(cmd.Context(), actor, draft)
			if err != nil {
				return err
			}
			cmd.Printf("Posted %s\n", status.Id)
			return nil
		},
	}
	cmd.Flags().StringVar(&summary, "cw", "", "content warning")
	cmd.Flags().StringVar(&replyTo, "reply", "", "URI of the status replied to")
	cmd.Flags().StringSliceVar(&to, "to", nil, "address only these actors (user@domain or URI)")
	cmd.Flags().StringVar(&poll, "poll", "", "comma separated poll choices")
	cmd.Flags().DurationVar(&pollFor, "poll-for", 24*time.Hour, "how long the poll stays open")
	return cmd
}

func (c *Console) timelineCommand(actor *domain.Actor) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show your home timeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := c.db.ReadHomeTimeline(cmd.Context(), actor.Id, limit)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				cmd.Println("Nothing here yet")
				return nil
			}
			for _, s := range statuses {
				author := c.handleOf(cmd.Context(), s.AccountId)
				text := s.Text
				if s.Kind == domain.KindAnnounce {
					text = "boosted " + c.originalURI(cmd.Context(), s)
				}
				cmd.Printf("%s  %s  %s\n    %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Id, author, text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of statuses")
	return cmd
}

// statusCommand builds a command acting on one status id.
func (c *Console) statusCommand(use string, short string, apply func(context.Context, uuid.UUID) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <status-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseId(args[0])
			if err != nil {
				return err
			}
			if err := apply(cmd.Context(), id); err != nil {
				return err
			}
			cmd.Println("Done")
			return nil
		},
	}
}

// actorCommand builds a command acting on one known actor.
func (c *Console) actorCommand(use string, short string, apply func(context.Context, *domain.Actor) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user@domain|uri>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, err := c.resolveURI(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			other, err := c.db.ReadActorByURI(cmd.Context(), uri)
			if err != nil {
				return err
			}
			if other == nil {
				return fmt.Errorf("unknown actor %s", uri)
			}
			if err := apply(cmd.Context(), other); err != nil {
				return err
			}
			cmd.Println("Done")
			return nil
		},
	}
}

func (c *Console) whoami(cmd *cobra.Command, actor *domain.Actor) error {
	fresh, err := c.db.ReadActorById(cmd.Context(), actor.Id)
	if err != nil {
		return err
	}
	if fresh == nil {
		return fmt.Errorf("account no longer exists")
	}
	cmd.Printf("%s\n%s\n", fresh.Handle(), fresh.URI)
	cmd.Printf("followers: %d  following: %d  statuses: %d\n", fresh.FollowersCount, fresh.FollowingCount, fresh.StatusesCount)
	if fresh.DeletionStatus != domain.DeletionNone && fresh.DeletionStatus != "" {
		at := ""
		if fresh.DeletionScheduledAt != nil {
			at = " at " + fresh.DeletionScheduledAt.Local().Format(time.RFC1123)
		}
		cmd.Printf("deletion: %s%s\n", fresh.DeletionStatus, at)
	}
	return nil
}

func (c *Console) requests(cmd *cobra.Command, actor *domain.Actor) error {
	pending, err := c.db.ReadFollowRequests(cmd.Context(), actor.Id)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("No pending follow requests")
		return nil
	}
	for _, f := range pending {
		follower, err := c.db.ReadActorById(cmd.Context(), f.AccountId)
		if err != nil || follower == nil {
			continue
		}
		cmd.Printf("%s  %s\n", follower.Handle(), follower.URI)
	}
	return nil
}

func (c *Console) notifications(cmd *cobra.Command, actor *domain.Actor) error {
	list, err := c.db.ReadNotifications(cmd.Context(), actor.Id, 20)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		cmd.Println("No notifications")
		return nil
	}
	for _, n := range list {
		cmd.Printf("%s  %s  %s\n", n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Type, c.handleOf(cmd.Context(), n.SourceAccountId))
	}
	return nil
}

func (c *Console) deleteAccount(cmd *cobra.Command, actor *domain.Actor, args []string) error {
	var at *time.Time
	grace := defaultDeletionGrace
	if len(args) == 1 && args[0] != "now" {
		parsed, err := time.ParseDuration(args[0])
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid duration %q", args[0])
		}
		grace = parsed
	}
	if len(args) == 0 || args[0] != "now" {
		when := c.now().Add(grace)
		at = &when
	}

	if err := c.deletion.Schedule(cmd.Context(), actor.Id, at); err != nil {
		return err
	}
	if at == nil {
		cmd.Println("Your account is being deleted")
		return nil
	}
	cmd.Printf("Your account will be deleted at %s. Run cancel-deletion to keep it.\n", at.Local().Format(time.RFC1123))
	return nil
}

// resolveURI accepts an actor URI or a user@domain handle. Local handles are
// resolved without a lookup.
func (c *Console) resolveURI(ctx context.Context, target string) (string, error) {
	if strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://") {
		return target, nil
	}
	username, host, err := activitypub.SplitHandle(target)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(host, c.domain) {
		return activitypub.ActorURI(c.domain, username), nil
	}
	return c.finger.LookupWebfinger(ctx, target)
}

func (c *Console) handleOf(ctx context.Context, actorId uuid.UUID) string {
	actor, err := c.db.ReadActorById(ctx, actorId)
	if err != nil || actor == nil {
		return "unknown"
	}
	return actor.Handle()
}

func (c *Console) originalURI(ctx context.Context, announce domain.Status) string {
	if announce.OriginalStatusId == nil {
		return ""
	}
	original, err := c.db.ReadStatusById(ctx, *announce.OriginalStatusId)
	if err != nil || original == nil {
		return ""
	}
	return original.URI
}

func parseId(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid status id %q", s)
	}
	return id, nil
}
