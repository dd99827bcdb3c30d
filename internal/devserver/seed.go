package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"loopline/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedPassword is the password of every seeded user.
const SeedPassword = "password123"

// SeedOptions sizes the demo data set. Seed makes the output reproducible;
// zero picks a random seed.
type SeedOptions struct {
	Users        int
	PostsPerUser int
	Groups       int
	Seed         int64
}

// SeedResult reports what Seed created.
type SeedResult struct {
	Users   int `json:"users"`
	Posts   int `json:"posts"`
	Groups  int `json:"groups"`
	Follows int `json:"follows"`
}

// Seed fills db with demo users, follows, posts, polls and groups. Running
// it twice against the same database may collide on usernames or slugs.
func Seed(ctx context.Context, db *gorm.DB, opts SeedOptions) (SeedResult, error) {
	var res SeedResult
	if opts.Users <= 0 {
		return res, nil
	}
	faker := gofakeit.New(opts.Seed)
	hash, err := bcrypt.GenerateFromPassword([]byte(SeedPassword), bcrypt.MinCost)
	if err != nil {
		return res, err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := make([]User, 0, opts.Users)
		taken := make(map[string]bool, opts.Users)
		for len(users) < opts.Users {
			first, last := faker.FirstName(), faker.LastName()
			username := fmt.Sprintf("%s%d", strings.ToLower(faker.Username()), faker.Number(100, 999))
			if taken[username] {
				continue
			}
			taken[username] = true
			users = append(users, User{
				Username:     username,
				Email:        username + "@example.com",
				PasswordHash: string(hash),
				FirstName:    first,
				LastName:     last,
				DisplayName:  first + " " + last,
				Headline:     faker.JobTitle(),
				Bio:          faker.Sentence(12),
				Location:     faker.City(),
			})
		}
		if err := tx.Create(&users).Error; err != nil {
			return err
		}
		res.Users = len(users)

		// Each user follows the next few, so every feed has content.
		var follows []Follow
		for i, u := range users {
			for j := 1; j <= 3 && j < len(users); j++ {
				follows = append(follows, Follow{FollowerID: u.ID, FollowingID: users[(i+j)%len(users)].ID})
			}
		}
		if len(follows) > 0 {
			if err := tx.Create(&follows).Error; err != nil {
				return err
			}
		}
		res.Follows = len(follows)

		for _, u := range users {
			for i := 0; i < opts.PostsPerUser; i++ {
				post := Post{AuthorID: u.ID, Content: faker.Paragraph(1, 3, 12, " ")}
				if faker.Bool() {
					post.Title = faker.Sentence(5)
				}
				if err := tx.Create(&post).Error; err != nil {
					return err
				}
				res.Posts++
				if faker.Number(1, 5) == 1 {
					if err := seedPoll(tx, faker, post.ID); err != nil {
						return err
					}
				}
			}
		}

		for i := 0; i < opts.Groups; i++ {
			creator := users[i%len(users)]
			name := faker.Company()
			privacy := models.PrivacyPublic
			if i%3 == 2 {
				privacy = models.PrivacyPrivate
			}
			group := Group{
				Name:         name,
				Slug:         fmt.Sprintf("%s-%d", slugify(name), i+1),
				Description:  faker.Sentence(10),
				CreatorID:    creator.ID,
				PrivacyLevel: string(privacy),
			}
			if err := tx.Create(&group).Error; err != nil {
				return err
			}
			members := []Membership{{GroupID: group.ID, UserID: creator.ID}}
			for j := 1; j <= 2 && j < len(users); j++ {
				members = append(members, Membership{GroupID: group.ID, UserID: users[(i+j)%len(users)].ID})
			}
			if err := tx.Create(&members).Error; err != nil {
				return err
			}
			for _, m := range members {
				post := Post{AuthorID: m.UserID, GroupID: &group.ID, Content: faker.Sentence(15)}
				if err := tx.Create(&post).Error; err != nil {
					return err
				}
				res.Posts++
			}
			res.Groups++
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	newLogger().InfoContext(ctx, "seeded database",
		slog.Int("users", res.Users),
		slog.Int("posts", res.Posts),
		slog.Int("groups", res.Groups),
		slog.Int("follows", res.Follows))
	return res, nil
}

func seedPoll(tx *gorm.DB, faker *gofakeit.Faker, postID uint) error {
	poll := Poll{PostID: postID, Question: strings.TrimSuffix(faker.Question(), "?") + "?"}
	if err := tx.Create(&poll).Error; err != nil {
		return err
	}
	n := faker.Number(2, 4)
	options := make([]PollOption, 0, n)
	for i := 0; i < n; i++ {
		options = append(options, PollOption{PollID: poll.ID, Text: faker.Word(), Position: i})
	}
	return tx.Create(&options).Error
}
