package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"loopline/internal/live"
	"loopline/internal/media"
	"loopline/internal/membership"
	"loopline/internal/models"

	"github.com/spf13/cobra"
)

func (c *cli) registerCmd() *cobra.Command {
	var reg models.Registration
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(nil)
			if err != nil {
				return err
			}
			reg.Username = args[0]
			if reg.Password1 == "" {
				reg.Password1 = os.Getenv("LOOPLINE_PASSWORD")
			}
			reg.Password2 = reg.Password1
			if err := rt.Auth.Register(cmd.Context(), reg); err != nil {
				return err
			}
			return c.printUser(rt.Auth.User())
		},
	}
	cmd.Flags().StringVar(&reg.Email, "email", "", "email address")
	cmd.Flags().StringVar(&reg.Password1, "password", "", "password (default $LOOPLINE_PASSWORD)")
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "last name")
	return cmd
}

func (c *cli) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in and remember the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime(nil)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("LOOPLINE_PASSWORD")
			}
			if err := rt.Auth.Login(cmd.Context(), models.Credentials{Username: args[0], Password: password}); err != nil {
				return err
			}
			return c.printUser(rt.Auth.User())
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (default $LOOPLINE_PASSWORD)")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Signed out.")
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			return c.printUser(rt.Auth.User())
		},
	}
}

func (c *cli) printUser(u models.User, ok bool) error {
	if !ok {
		return models.ErrNoCredential
	}
	return c.render(u, func(w io.Writer) {
		fmt.Fprintf(w, "%s (id %d)\n", u.Username, u.ID)
	})
}

func (c *cli) feedCmd() *cobra.Command {
	var pages int
	var saved bool
	var search string
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the home feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := c.session(ctx)
			if err != nil {
				return err
			}
			var posts []models.Post
			switch {
			case search != "":
				if err := rt.Feed.Search(ctx, search); err != nil {
					return err
				}
				posts = rt.Feed.SearchResults()
			case saved:
				if err := rt.Feed.LoadSaved(ctx); err != nil {
					return err
				}
				posts = rt.Feed.SavedPosts()
			default:
				if err := rt.Feed.Load(ctx); err != nil {
					return err
				}
				for i := 1; i < pages && rt.Feed.HasMore(); i++ {
					if err := rt.Feed.LoadMore(ctx); err != nil {
						return err
					}
				}
				posts = rt.Feed.Posts()
			}
			return c.printPosts(posts)
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to load")
	cmd.Flags().BoolVar(&saved, "saved", false, "show saved posts")
	cmd.Flags().StringVar(&search, "search", "", "search posts instead")
	return cmd
}

func (c *cli) printPosts(posts []models.Post) error {
	if posts == nil {
		posts = []models.Post{}
	}
	return c.render(posts, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tAUTHOR\tLIKES\tCOMMENTS\tCONTENT")
		for _, p := range posts {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", p.ID, p.Author.Username, p.LikeCount, p.CommentCount, oneLine(p.Content, 60))
		}
		_ = tw.Flush()
	})
}

func (c *cli) printPost(p models.Post) error {
	return c.render(p, func(w io.Writer) {
		fmt.Fprintf(w, "#%d by %s, %s\n", p.ID, p.Author.Username, p.CreatedAt.Format(time.RFC822))
		if p.Title != "" {
			fmt.Fprintln(w, p.Title)
		}
		fmt.Fprintln(w, p.Content)
		if p.Poll != nil {
			fmt.Fprintf(w, "poll %d: %s (%d votes)\n", p.Poll.ID, p.Poll.Question, p.Poll.TotalVotes)
			for _, o := range p.Poll.Options {
				mark := " "
				if p.Poll.UserVote != nil && *p.Poll.UserVote == o.ID {
					mark = "*"
				}
				fmt.Fprintf(w, " %s [%d] %s: %d\n", mark, o.ID, o.Text, o.VoteCount)
			}
		}
		fmt.Fprintf(w, "likes %d, comments %d, liked %t, saved %t\n", p.LikeCount, p.CommentCount, p.IsLiked, p.IsSaved)
	})
}

func (c *cli) postCmd() *cobra.Command {
	var in models.NewPost
	var images, options []string
	var question string
	cmd := &cobra.Command{
		Use:   "post <content>",
		Short: "Publish a post, optionally with images or a poll",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := c.session(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				in.Content = args[0]
			}
			if question != "" {
				in.Poll = &models.NewPoll{Question: question, Options: options}
			}
			for _, path := range images {
				up, err := rt.Media.PrepareFile(media.FieldPostImage, path)
				if err != nil {
					return err
				}
				in.Media = append(in.Media, up)
			}
			var post models.Post
			if in.GroupSlug != "" {
				post, err = rt.Groups.CreatePost(ctx, in.GroupSlug, in)
			} else {
				post, err = rt.Feed.Create(ctx, in)
			}
			if err != nil {
				return err
			}
			return c.printPost(post)
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "post title")
	cmd.Flags().StringVar(&in.GroupSlug, "group", "", "publish in this group")
	cmd.Flags().StringSliceVar(&images, "image", nil, "image file to attach (repeatable)")
	cmd.Flags().StringVar(&question, "poll", "", "poll question")
	cmd.Flags().StringSliceVar(&options, "option", nil, "poll option (repeatable)")
	return cmd
}

func postID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid post id %q", arg)
	}
	return id, nil
}

// withPost loads a post into the cache, applies fn and prints the result.
func (c *cli) withPost(cmd *cobra.Command, arg string, fn func(ctx context.Context, p models.Post) error) error {
	ctx := cmd.Context()
	rt, err := c.session(ctx)
	if err != nil {
		return err
	}
	id, err := postID(arg)
	if err != nil {
		return err
	}
	post, err := rt.Feed.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(ctx, post); err != nil {
		return err
	}
	if updated, ok := rt.Cache.GetByID(id); ok {
		post = updated
	}
	return c.printPost(post)
}

func (c *cli) likeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "like <post-id>",
		Short: "Like or unlike a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withPost(cmd, args[0], func(ctx context.Context, p models.Post) error {
				return c.rt.Feed.ToggleLike(ctx, p.ID)
			})
		},
	}
}

func (c *cli) saveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <post-id>",
		Short: "Save or unsave a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withPost(cmd, args[0], func(ctx context.Context, p models.Post) error {
				return c.rt.Feed.ToggleSave(ctx, p.ID)
			})
		},
	}
}

func (c *cli) voteCmd() *cobra.Command {
	var retract bool
	cmd := &cobra.Command{
		Use:   "vote <post-id> [option-id]",
		Short: "Vote in a post's poll, or retract the vote",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withPost(cmd, args[0], func(ctx context.Context, p models.Post) error {
				if retract {
					return c.rt.Feed.RetractVote(ctx, p.ID)
				}
				if len(args) < 2 {
					return fmt.Errorf("an option id is required")
				}
				option, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid option id %q", args[1])
				}
				return c.rt.Feed.Vote(ctx, p.ID, option)
			})
		},
	}
	cmd.Flags().BoolVar(&retract, "retract", false, "retract the current vote")
	return cmd
}

func (c *cli) commentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comments <post-id> [text]",
		Short: "List a post's comments, or add one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := c.session(ctx)
			if err != nil {
				return err
			}
			id, err := postID(args[0])
			if err != nil {
				return err
			}
			post, err := rt.Feed.Get(ctx, id)
			if err != nil {
				return err
			}
			target := models.CommentTarget{Type: post.PostType, ObjectID: post.ObjectID, PostID: post.ID}
			if len(args) == 2 {
				if _, err := rt.Comments.Create(ctx, target, args[1]); err != nil {
					return err
				}
			}
			if err := rt.Comments.Load(ctx, target); err != nil {
				return err
			}
			comments := rt.Comments.Comments(target)
			return c.render(comments, func(w io.Writer) {
				for _, cm := range comments {
					fmt.Fprintf(w, "[%d] %s: %s\n", cm.ID, cm.Author.Username, cm.Content)
				}
			})
		},
	}
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	var details string
	cmd := &cobra.Command{
		Use:   "report <post-id> <reason>",
		Short: "Report a post (spam, harassment, inappropriate, misinformation, other)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := c.session(ctx)
			if err != nil {
				return err
			}
			id, err := postID(args[0])
			if err != nil {
				return err
			}
			post, err := rt.Feed.Get(ctx, id)
			if err != nil {
				return err
			}
			if err := rt.Moderation.ReportPost(ctx, post, models.Report{Reason: args[1], Details: details}); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Report submitted.")
			return nil
		},
	}
	cmd.Flags().StringVar(&details, "details", "", "additional details")
	return cmd
}

func (c *cli) profileCmd() *cobra.Command {
	var picture string
	cmd := &cobra.Command{
		Use:   "profile <username>",
		Short: "Show a profile and its posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := c.session(ctx)
			if err != nil {
				return err
			}
			username := args[0]
			if picture != "" {
				up, err := rt.Media.PrepareFile(media.FieldProfilePicture, picture)
				if err != nil {
					return err
				}
				if err := rt.Profile.UpdatePicture(ctx, username, up); err != nil {
					return err
				}
			}
			if err := rt.Profile.Load(ctx, username); err != nil {
				return err
			}
			if err := rt.Profile.LoadPosts(ctx, username, 1); err != nil {
				return err
			}
			profile, _ := rt.Profile.Profile()
			view := struct {
				Profile models.Profile `json:"profile"`
				Posts   []models.Post  `json:"posts"`
			}{profile, rt.Profile.Posts()}
			return c.render(view, func(w io.Writer) {
				fmt.Fprintf(w, "%s", profile.User.Username)
				if profile.DisplayName != "" {
					fmt.Fprintf(w, " (%s)", profile.DisplayName)
				}
				fmt.Fprintf(w, "\n%s\nfollowers %d, following %d, followed by you %t\n\n",
					profile.Headline, profile.FollowersCount, profile.FollowingCount, profile.IsFollowed)
				for _, p := range view.Posts {
					fmt.Fprintf(w, "#%d %s\n", p.ID, oneLine(p.Content, 70))
				}
			})
		},
	}
	cmd.Flags().StringVar(&picture, "set-picture", "", "upload this image as your profile picture first")
	return cmd
}

func (c *cli) followCmd(follow bool) *cobra.Command {
	use, short := "follow <username>", "Follow a user"
	if !follow {
		use, short = "unfollow <username>", "Stop following a user"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			if follow {
				err = rt.Profile.Follow(cmd.Context(), args[0])
			} else {
				err = rt.Profile.Unfollow(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Done.")
			return nil
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search users",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Search.Users(cmd.Context(), args[0]); err != nil {
				return err
			}
			users := rt.Search.Results()
			return c.render(users, func(w io.Writer) {
				for _, u := range users {
					fmt.Fprintf(w, "%s\t%s %s\n", u.Username, u.FirstName, u.LastName)
				}
			})
		},
	}
}

func (c *cli) notificationsCmd() *cobra.Command {
	var page int
	var readAll bool
	var read []int64
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"n"},
		Short:   "List notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := c.session(ctx)
			if err != nil {
				return err
			}
			switch {
			case readAll:
				if err := rt.Notifications.MarkAllRead(ctx); err != nil {
					return err
				}
			case len(read) > 0:
				if err := rt.Notifications.MarkRead(ctx, read...); err != nil {
					return err
				}
			}
			if err := rt.Notifications.Load(ctx, page); err != nil {
				return err
			}
			if err := rt.Notifications.LoadUnreadCount(ctx); err != nil {
				return err
			}
			items := rt.Notifications.Items()
			view := struct {
				Unread int                   `json:"unread"`
				Page   int                   `json:"page"`
				Pages  int                   `json:"pages"`
				Items  []models.Notification `json:"items"`
			}{rt.Notifications.Unread(), page, rt.Notifications.TotalPages(), items}
			return c.render(view, func(w io.Writer) {
				fmt.Fprintf(w, "%d unread, page %d of %d\n", view.Unread, page, view.Pages)
				for _, n := range items {
					mark := " "
					if !n.IsRead {
						mark = "*"
					}
					fmt.Fprintf(w, "%s [%d] %s %s\n", mark, n.ID, n.Actor.Username, n.Verb)
				}
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().BoolVar(&readAll, "read-all", false, "mark every notification read first")
	cmd.Flags().Int64SliceVar(&read, "read", nil, "mark these notification ids read first")
	return cmd
}

func (c *cli) groupsCmd() *cobra.Command {
	groups := &cobra.Command{
		Use:   "groups",
		Short: "Browse and manage groups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Groups.List(cmd.Context(), 1); err != nil {
				return err
			}
			list := rt.Groups.Groups()
			return c.render(list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SLUG\tMEMBERS\tPRIVACY\tMEMBER")
				for _, g := range list {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%t\n", g.Slug, g.MemberCount, g.PrivacyLevel, g.IsMember)
				}
				_ = tw.Flush()
			})
		},
	}

	var create models.NewGroup
	var private bool
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			create.Name = args[0]
			if private {
				create.PrivacyLevel = models.PrivacyPrivate
			}
			g, err := rt.Groups.Create(cmd.Context(), create)
			if err != nil {
				return err
			}
			return c.printGroup(g)
		},
	}
	createCmd.Flags().StringVar(&create.Description, "description", "", "group description")
	createCmd.Flags().BoolVar(&private, "private", false, "require approval to join")

	show := &cobra.Command{
		Use:   "show <slug>",
		Short: "Show a group and its posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			g, err := rt.Groups.Detail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := c.printGroup(g); err != nil {
				return err
			}
			if err := rt.Groups.LoadPosts(cmd.Context(), args[0], false); err != nil {
				return err
			}
			return c.printPosts(rt.Groups.Posts())
		},
	}

	join := c.membershipCmd("join <slug>", "Join a group or request to join it",
		func(ctx context.Context, slug string) (membership.Result, error) {
			return c.rt.Membership.Join(ctx, slug)
		})
	leave := c.membershipCmd("leave <slug>", "Leave a group",
		func(ctx context.Context, slug string) (membership.Result, error) {
			return c.rt.Membership.Leave(ctx, slug)
		})

	transfer := &cobra.Command{
		Use:   "transfer <slug> <username>",
		Short: "Hand a group to another member and leave it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := c.session(ctx)
			if err != nil {
				return err
			}
			members, err := rt.Groups.Members(ctx, args[0])
			if err != nil {
				return err
			}
			for _, m := range members {
				if strings.EqualFold(m.Username, args[1]) {
					res, err := rt.Membership.TransferAndLeave(ctx, args[0], m)
					if err != nil {
						return err
					}
					return c.printResult(res)
				}
			}
			return fmt.Errorf("%s is not a member of %s", args[1], args[0])
		},
	}

	requests := &cobra.Command{
		Use:   "requests <slug>",
		Short: "List pending join requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			reqs, err := rt.Membership.LoadRequests(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.render(reqs, func(w io.Writer) {
				for _, r := range reqs {
					fmt.Fprintf(w, "[%d] %s requested %s\n", r.ID, r.User.Username, r.CreatedAt.Format(time.RFC822))
				}
			})
		},
	}
	approve := c.reviewCmd("approve", func(ctx context.Context, slug string, id int64) error {
		return c.rt.Membership.Approve(ctx, slug, id)
	})
	deny := c.reviewCmd("deny", func(ctx context.Context, slug string, id int64) error {
		return c.rt.Membership.Deny(ctx, slug, id)
	})

	groups.AddCommand(createCmd, show, join, leave, transfer, requests, approve, deny)
	return groups
}

func (c *cli) membershipCmd(use, short string, fn func(context.Context, string) (membership.Result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.session(cmd.Context()); err != nil {
				return err
			}
			res, err := fn(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printResult(res)
		},
	}
}

func (c *cli) reviewCmd(action string, fn func(context.Context, string, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <slug> <request-id>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a join request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.session(cmd.Context()); err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid request id %q", args[1])
			}
			if err := fn(cmd.Context(), args[0], id); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Done.")
			return nil
		},
	}
}

func (c *cli) printGroup(g models.Group) error {
	return c.render(g, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%s), %s, %d members, created by %s\n", g.Name, g.Slug, g.PrivacyLevel, g.MemberCount, g.Creator.Username)
		if g.Description != "" {
			fmt.Fprintln(w, g.Description)
		}
	})
}

func (c *cli) printResult(res membership.Result) error {
	view := struct {
		Outcome    string          `json:"outcome"`
		Group      string          `json:"group"`
		Candidates []models.Author `json:"candidates,omitempty"`
	}{res.Outcome.String(), res.Group.Slug, res.Candidates}
	return c.render(view, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %s\n", view.Group, view.Outcome)
		if res.Outcome == membership.OutcomeTransferRequired {
			fmt.Fprintln(w, "You own this group. Transfer it first with `loopline groups transfer`:")
			for _, m := range res.Candidates {
				fmt.Fprintf(w, "  %s\n", m.Username)
			}
		}
	})
}

// guardInterval is how often watch rechecks the stored credential.
const guardInterval = 5 * time.Second

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream notifications and new posts until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := c.runtime(func(ev live.Event) {
				_ = c.printEvent(ev)
			})
			if err != nil {
				return err
			}
			ok, err := rt.Init(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("not signed in; run `loopline login` first")
			}
			if rt.Live.State() == live.StateDisconnected {
				return fmt.Errorf("could not open the live channel at %s", c.cfg.ActivityURL)
			}
			fmt.Fprintln(os.Stderr, "watching; press Ctrl-C to stop")
			ticker := time.NewTicker(guardInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := rt.Guard(ctx); err != nil {
						return fmt.Errorf("signed out elsewhere: %w", err)
					}
				}
			}
		},
	}
}

func (c *cli) printEvent(ev live.Event) error {
	view := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{Type: ev.Type()}
	switch e := ev.(type) {
	case live.NotificationEvent:
		view.Payload = e.Notification
	case live.LivePostEvent:
		view.Payload = e.Patch
	}
	return c.render(view, func(w io.Writer) {
		switch e := ev.(type) {
		case live.NotificationEvent:
			fmt.Fprintf(w, "notification: %s %s\n", e.Notification.Actor.Username, e.Notification.Verb)
		case live.LivePostEvent:
			p := e.Patch.Post()
			fmt.Fprintf(w, "new post #%d by %s: %s\n", p.ID, p.Author.Username, oneLine(p.Content, 60))
		}
	})
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}
