package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/access"
	"github.com/relabs-tech/basebone/core/client"
	"github.com/relabs-tech/basebone/core/notify"
)

type PipelineTestSuite struct {
	IntegrationTestSuite
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, &PipelineTestSuite{})
}

type page struct {
	Count   int                      `json:"count"`
	Results []map[string]interface{} `json:"results"`
}

func (s *PipelineTestSuite) user(username string) (uuid.UUID, client.Client) {
	var user map[string]interface{}
	_, err := s.admin.Entity("auth.user").Create(map[string]interface{}{
		"username": username,
		"password": "secret",
		"profile":  map[string]interface{}{"bio": "about " + username},
	}, &user)
	s.Require().NoError(err)
	id := uuid.MustParse(user["id"].(string))
	return id, client.NewWithRouter(s.router).WithAuthorization(&access.Authorization{
		Identity: username,
		UserID:   id,
	})
}

func (s *PipelineTestSuite) TestScopedListWithFilter() {
	name := uuid.NewString()[:8]
	u1, c1 := s.user("u1-" + name)
	_, c2 := s.user("u2-" + name)

	for _, title := range []string{"first", "second", "third"} {
		_, err := c1.Entity("blog.post").Create(map[string]interface{}{"title": title, "views": len(title)}, nil)
		s.Require().NoError(err)
	}
	_, err := c2.Entity("blog.post").Create(map[string]interface{}{"title": "foreign"}, nil)
	s.Require().NoError(err)

	var p page
	_, err = c1.Entity("blog.post").WithExpandFields("author.profile").ListWithFilter(map[string]interface{}{
		"filter_conditions": []interface{}{
			map[string]interface{}{"field": "views", "operator": "gte", "value": 5},
			map[string]interface{}{"field": "author__username", "operator": "icontains", "value": "U1-"},
		},
		"order_by_fields": []string{"-views", "title"},
	}, &p)
	s.Require().NoError(err)
	s.Require().Equal(3, p.Count)
	s.Equal("second", p.Results[0]["title"])
	s.Equal("first", p.Results[1]["title"])
	s.Equal("third", p.Results[2]["title"])
	author := p.Results[0]["author"].(map[string]interface{})
	s.Equal(u1.String(), author["id"])
	s.Equal("about u1-"+name, author["profile"].(map[string]interface{})["bio"])
}

func (s *PipelineTestSuite) TestNestedWriteRollsBack() {
	u1, _ := s.user("rollback-" + uuid.NewString()[:8])

	_, err := s.admin.Entity("blog.post").Create(map[string]interface{}{
		"title":    "never",
		"author":   u1.String(),
		"comments": []interface{}{map[string]interface{}{"text": "fine"}, map[string]interface{}{"text": nil}},
	}, nil)
	s.Require().Error(err)

	var p page
	_, err = s.admin.Entity("blog.post").ListWithFilter(map[string]interface{}{
		"filter_conditions": []interface{}{
			map[string]interface{}{"field": "author", "operator": "eq", "value": u1.String()},
		},
	}, &p)
	s.Require().NoError(err)
	s.Equal(0, p.Count)
}

func (s *PipelineTestSuite) TestNotFoundAndValidation() {
	_, err := s.admin.Entity("blog.post").Item(uuid.New()).Read(nil)
	s.True(errors.Is(err, core.ErrNotFound), err)

	_, err = s.admin.Entity("auth.user").Create(map[string]interface{}{"password": "secret"}, nil)
	var cerr *core.Error
	s.Require().True(errors.As(err, &cerr), err)
	s.Equal(core.CodeValidation, cerr.Code)
	s.Contains(cerr.Fields, "username")
}

func (s *PipelineTestSuite) TestNotificationsArriveInOrder() {
	u1, _ := s.user("notify-" + uuid.NewString()[:8])

	var post map[string]interface{}
	_, err := s.admin.Entity("blog.post").Create(map[string]interface{}{"title": "v0", "author": u1.String()}, &post)
	s.Require().NoError(err)
	id := uuid.MustParse(post["id"].(string))
	titles := []string{"v0"}
	for _, title := range []string{"v1", "v2", "v3"} {
		_, err := s.admin.Entity("blog.post").Item(id).Patch(map[string]interface{}{"title": title}, nil)
		s.Require().NoError(err)
		titles = append(titles, title)
	}

	reader := s.reader()
	defer reader.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var received []string
	for len(received) < len(titles) {
		msg, err := reader.ReadMessage(ctx)
		s.Require().NoError(err)
		var event notify.Event
		s.Require().NoError(json.Unmarshal(msg.Value, &event))
		if event.ID != id {
			continue
		}
		s.Equal("blog.post/"+id.String(), string(msg.Key))
		s.Equal(len(received) == 0, event.Created)
		received = append(received, event.Payload["title"].(string))
	}
	s.Equal(titles, received)
}
