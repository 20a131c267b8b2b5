// Package webapi provides the REST interface to comment submission,
// moderation and notifications.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/commently/toxguard/app/moderator"
	"github.com/commently/toxguard/app/storage"
	"github.com/commently/toxguard/lib/moderation"
)

// Server is a web API server
type Server struct {
	Config
}

// Config defines server parameters
type Config struct {
	Version    string     // version to show in /ping and app-info headers
	ListenAddr string     // listen address
	Moderator  Moderator  // comment moderation service
	Classifier Classifier // toxicity classifier for the bare check endpoint
	AuthPasswd string     // basic auth password for user "toxguard" on moderator routes
	Dbg        bool       // debug mode
}

// Moderator is the comment lifecycle service interface
type Moderator interface {
	Submit(ctx context.Context, postID int64, author, text string, parentID int64) (moderator.SubmitResult, error)
	Edit(ctx context.Context, id int64, actor, text string) (moderator.SubmitResult, error)
	Report(ctx context.Context, id int64, reporter string) (moderation.Comment, error)
	Approve(ctx context.Context, id int64, actor string, role moderation.Role) (moderation.Comment, error)
	Reject(ctx context.Context, id int64, actor string, role moderation.Role) (moderation.Comment, error)
	Delete(ctx context.Context, id int64, actor string, role moderation.Role) error
	Queue(ctx context.Context) ([]moderation.Comment, error)
	Visible(ctx context.Context, postID int64, viewer string, role moderation.Role) ([]moderation.Comment, error)
	Notifications(ctx context.Context, user string) ([]moderation.Notification, error)
	MarkNotificationsRead(ctx context.Context, user string) (int64, error)
	Stats(ctx context.Context) (map[moderation.Status]int, error)
}

// Classifier is a toxicity check interface
type Classifier interface {
	Predict(text string) (toxic bool, label string)
	Loaded() bool
}

// NewServer creates a new web API server
func NewServer(config Config) *Server {
	return &Server{Config: config}
}

// Run starts the server and blocks until the context is canceled
func (s *Server) Run(ctx context.Context) error {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(lgr.Default()))
	router.Use(rest.Throttle(1000))
	router.Use(rest.AppInfo("toxguard", "commently", s.Version), rest.Ping)
	router.Use(tollbooth.HTTPMiddleware(tollbooth.NewLimiter(50, nil)))
	router.Use(rest.SizeLimit(1024 * 1024)) // 1M max request size

	s.routes(router)

	srv := &http.Server{Addr: s.ListenAddr, Handler: router, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[WARN] failed to shutdown webapi server: %v", err)
		} else {
			log.Printf("[INFO] webapi server stopped")
		}
	}()

	log.Printf("[INFO] start webapi server on %s", s.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

func (s *Server) routes(router *routegroup.Bundle) {
	router.HandleFunc("POST /check", s.checkHandler)

	router.HandleFunc("POST /comments", s.submitHandler)
	router.HandleFunc("GET /comments", s.listHandler)
	router.HandleFunc("PUT /comments/{id}", s.editHandler)
	router.HandleFunc("DELETE /comments/{id}", s.deleteHandler)
	router.HandleFunc("POST /comments/{id}/report", s.reportHandler)

	router.HandleFunc("GET /notifications", s.notificationsHandler)
	router.HandleFunc("PUT /notifications", s.markReadHandler)

	if s.AuthPasswd != "" {
		log.Printf("[INFO] basic auth enabled for moderation routes")
	} else {
		log.Printf("[WARN] basic auth disabled, moderation routes are not protected")
	}
	mod := router.Mount("/moderation")
	mod.Use(s.authMiddleware(rest.BasicAuthWithUserPasswd("toxguard", s.AuthPasswd)))
	mod.HandleFunc("GET /queue", s.queueHandler)
	mod.HandleFunc("POST /approve/{id}", s.decisionHandler(s.Moderator.Approve))
	mod.HandleFunc("POST /reject/{id}", s.decisionHandler(s.Moderator.Reject))
	mod.HandleFunc("DELETE /comment/{id}", s.modDeleteHandler)
	mod.HandleFunc("GET /stats", s.statsHandler)
}

// checkHandler handles POST /check, classifying a chunk of text without
// storing anything
func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		log.Printf("[WARN] can't decode check request: %v", err)
		return
	}

	toxic, label := s.Classifier.Predict(req.Text)
	rest.RenderJSON(w, rest.JSON{"toxic": toxic, "label": label, "model_loaded": s.Classifier.Loaded()})
}

// submitHandler handles POST /comments, classifying and storing a new comment
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PostID   int64  `json:"post_id"`
		Author   string `json:"author"`
		Text     string `json:"text"`
		ParentID int64  `json:"parent_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}
	if req.Author == "" || req.Text == "" {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "author and text are required"})
		return
	}

	res, err := s.Moderator.Submit(r.Context(), req.PostID, req.Author, req.Text, req.ParentID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't submit comment", "details": err.Error()})
		return
	}
	w.WriteHeader(http.StatusCreated)
	rest.RenderJSON(w, res)
}

// listHandler handles GET /comments?post_id=N, returning the comments the
// requesting user is allowed to see
func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(r.URL.Query().Get("post_id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "invalid post_id"})
		return
	}

	user, role := s.identity(r)
	list, err := s.Moderator.Visible(r.Context(), postID, user, role)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't list comments", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"comments": list, "count": len(list)})
}

// editHandler handles PUT /comments/{id}, author-only text replacement
func (s *Server) editHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}
	if req.Text == "" {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "text is required"})
		return
	}

	user, _ := s.identity(r)
	res, err := s.Moderator.Edit(r.Context(), id, user, req.Text)
	if err != nil {
		s.renderOpError(w, err, "can't edit comment")
		return
	}
	rest.RenderJSON(w, res)
}

// deleteHandler handles DELETE /comments/{id}, author self-delete
func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}

	user, _ := s.identity(r)
	if err := s.Moderator.Delete(r.Context(), id, user, moderation.RoleAuthor); err != nil {
		s.renderOpError(w, err, "can't delete comment")
		return
	}
	rest.RenderJSON(w, rest.JSON{"deleted": true, "id": id})
}

// reportHandler handles POST /comments/{id}/report
func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reporter string `json:"reporter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}

	comment, err := s.Moderator.Report(r.Context(), id, req.Reporter)
	if err != nil {
		s.renderOpError(w, err, "can't report comment")
		return
	}
	rest.RenderJSON(w, comment)
}

// notificationsHandler handles GET /notifications?user=name
func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "user is required"})
		return
	}

	notifs, err := s.Moderator.Notifications(r.Context(), user)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't get notifications", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"notifications": notifs, "count": len(notifs)})
}

// markReadHandler handles PUT /notifications?user=name, marking all read
func (s *Server) markReadHandler(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "user is required"})
		return
	}

	affected, err := s.Moderator.MarkNotificationsRead(r.Context(), user)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't mark notifications read", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"marked": affected})
}

// queueHandler handles GET /moderation/queue
func (s *Server) queueHandler(w http.ResponseWriter, r *http.Request) {
	queue, err := s.Moderator.Queue(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't get queue", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"comments": queue, "count": len(queue)})
}

// decisionHandler builds a handler for approve and reject routes
func (s *Server) decisionHandler(fn func(ctx context.Context, id int64, actor string, role moderation.Role) (moderation.Comment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.commentID(w, r)
		if !ok {
			return
		}

		actor, _, _ := r.BasicAuth()
		comment, err := fn(r.Context(), id, actor, moderation.RoleModerator)
		if err != nil {
			s.renderOpError(w, err, "can't apply moderation decision")
			return
		}
		rest.RenderJSON(w, comment)
	}
}

// modDeleteHandler handles DELETE /moderation/comment/{id}
func (s *Server) modDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}

	actor, _, _ := r.BasicAuth()
	if err := s.Moderator.Delete(r.Context(), id, actor, moderation.RoleModerator); err != nil {
		s.renderOpError(w, err, "can't delete comment")
		return
	}
	rest.RenderJSON(w, rest.JSON{"deleted": true, "id": id})
}

// statsHandler handles GET /moderation/stats
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Moderator.Stats(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't get stats", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, stats)
}

// commentID extracts and validates the {id} path segment
func (s *Server) commentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "invalid comment id"})
		return 0, false
	}
	return id, true
}

// identity extracts the acting user from the request. There is no user store,
// callers identify themselves with the X-User header; moderator role is only
// granted through the basic-auth protected group, never here.
func (s *Server) identity(r *http.Request) (user string, role moderation.Role) {
	user = r.Header.Get("X-User")
	if user == "" {
		return "", moderation.RoleViewer
	}
	return user, moderation.RoleAuthor
}

// authMiddleware disables basic auth if the password is not set
func (s *Server) authMiddleware(mw func(next http.Handler) http.Handler) func(next http.Handler) http.Handler {
	if s.AuthPasswd == "" {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return mw
}

// renderOpError maps service errors to http statuses
func (s *Server) renderOpError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, storage.ErrCommentNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, moderation.ErrNotAllowed):
		w.WriteHeader(http.StatusForbidden)
	case errors.Is(err, moderation.ErrInvalidTransition):
		w.WriteHeader(http.StatusConflict)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
	rest.RenderJSON(w, rest.JSON{"error": msg, "details": err.Error()})
	log.Printf("[WARN] %s: %v", msg, err)
}
