package stepik

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp format used by the comments API.
const TimeLayout = "2006-01-02T15:04:05Z"

// Comment is a discussion comment.
type Comment struct {
	ID     int    `json:"id"`
	User   int    `json:"user"`
	Target int    `json:"target"` // step ID
	Parent int    `json:"parent"` // 0 for root comments
	Thread string `json:"thread"` // "discussion" or "solutions"
	Text   string `json:"text"`
	Time   string `json:"time"`
}

// Timestamp parses Time.
func (c Comment) Timestamp() (time.Time, error) {
	return time.Parse(TimeLayout, c.Time)
}

// User is a Stepik learner profile.
type User struct {
	ID               int    `json:"id"`
	FullName         string `json:"full_name"`
	Avatar           string `json:"avatar"`
	Reputation       int    `json:"reputation"`
	ReputationRank   int    `json:"reputation_rank"`
	SolvedStepsCount int    `json:"solved_steps_count"`
}

// HasCustomAvatar reports whether the user uploaded an avatar. Default
// avatars are served from the main domain, uploads from the CDN.
func (u User) HasCustomAvatar() bool {
	return u.Avatar != "" && !strings.HasPrefix(u.Avatar, "https://stepik.org/")
}

// Course is a course summary.
type Course struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	CanonicalURL string `json:"canonical_url"`
}

// Step is a lesson step.
type Step struct {
	ID       int `json:"id"`
	Lesson   int `json:"lesson"`
	Position int `json:"position"`
	Unit     int `json:"unit"`
}

type commentsEnvelope struct {
	Comments []Comment `json:"comments"`
}

type usersEnvelope struct {
	Users []User `json:"users"`
}

type coursesEnvelope struct {
	Courses []Course `json:"courses"`
}

type stepsEnvelope struct {
	Steps []Step `json:"steps"`
}

// Comments returns the newest comments of a course, newest first.
func (c *Client) Comments(ctx context.Context, courseID, limit int) ([]Comment, error) {
	params := url.Values{
		"page_size": {strconv.Itoa(limit)},
		"course":    {strconv.Itoa(courseID)},
		"sort":      {"time"},
		"order":     {"desc"},
	}
	var env commentsEnvelope
	if err := c.get(ctx, "comments", params, &env); err != nil {
		return nil, err
	}
	return env.Comments, nil
}

// Comment fetches a single comment.
func (c *Client) Comment(ctx context.Context, id int) (Comment, error) {
	var env commentsEnvelope
	if err := c.get(ctx, fmt.Sprintf("comments/%d", id), nil, &env); err != nil {
		return Comment{}, err
	}
	if len(env.Comments) == 0 {
		return Comment{}, fmt.Errorf("%w: comment %d", ErrNotFound, id)
	}
	return env.Comments[0], nil
}

// User fetches a user profile.
func (c *Client) User(ctx context.Context, id int) (User, error) {
	var env usersEnvelope
	if err := c.get(ctx, fmt.Sprintf("users/%d", id), nil, &env); err != nil {
		return User{}, err
	}
	if len(env.Users) == 0 {
		return User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return env.Users[0], nil
}

// Course fetches a course summary.
func (c *Client) Course(ctx context.Context, id int) (Course, error) {
	var env coursesEnvelope
	if err := c.get(ctx, fmt.Sprintf("courses/%d", id), nil, &env); err != nil {
		return Course{}, err
	}
	if len(env.Courses) == 0 {
		return Course{}, fmt.Errorf("%w: course %d", ErrNotFound, id)
	}
	return env.Courses[0], nil
}

// CourseTitle returns the course title.
func (c *Client) CourseTitle(ctx context.Context, id int) (string, error) {
	course, err := c.Course(ctx, id)
	if err != nil {
		return "", err
	}
	return course.Title, nil
}

// Step fetches a step.
func (c *Client) Step(ctx context.Context, id int) (Step, error) {
	var env stepsEnvelope
	if err := c.get(ctx, fmt.Sprintf("steps/%d", id), nil, &env); err != nil {
		return Step{}, err
	}
	if len(env.Steps) == 0 {
		return Step{}, fmt.Errorf("%w: step %d", ErrNotFound, id)
	}
	return env.Steps[0], nil
}

// ProfileURL links to a user's public profile.
func (c *Client) ProfileURL(userID int) string {
	return fmt.Sprintf("%s/users/%d/profile", c.baseURL, userID)
}

// CommentURL builds a link that opens the comment in its step. Any lookup
// failure falls back to the generic discussion link.
func (c *Client) CommentURL(ctx context.Context, id int) string {
	fallback := fmt.Sprintf("%s/discussion/comments/%d/", c.baseURL, id)

	cm, err := c.Comment(ctx, id)
	if err != nil || cm.Target == 0 {
		if err != nil {
			c.log.WithError(err).Debugf("[stepik] comment %d url fallback", id)
		}
		return fallback
	}
	step, err := c.Step(ctx, cm.Target)
	if err != nil {
		c.log.WithError(err).Debugf("[stepik] comment %d url fallback", id)
		return fallback
	}
	return c.stepCommentURL(cm, step)
}

func (c *Client) stepCommentURL(cm Comment, step Step) string {
	pos := step.Position
	if pos == 0 {
		pos = 1
	}

	var params []string
	if cm.Parent != 0 {
		params = append(params, fmt.Sprintf("discussion=%d", cm.Parent), fmt.Sprintf("reply=%d", cm.ID))
	} else {
		params = append(params, fmt.Sprintf("discussion=%d", cm.ID))
	}
	if cm.Thread == "solutions" {
		params = append(params, "thread=solutions")
	}
	if step.Unit != 0 {
		params = append(params, fmt.Sprintf("unit=%d", step.Unit))
	}

	return fmt.Sprintf("%s/lesson/%d/step/%d?%s", c.baseURL, step.Lesson, pos, strings.Join(params, "&"))
}
