package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"spi-exam-service/internal/app"
	"spi-exam-service/internal/domain"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	noticeInvalidSet  = "無効な問題セットです。"
	noticeDataFailure = "問題データの読み込みに失敗しました。"
	noticeNoSession   = "受験が開始されていません。"
	noticeNoResult    = "結果を表示できません。"
	noticeUnknownMode = "未知の受験モードが指定されました。"
	noticeUnexpected  = "エラーが発生しました。もう一度お試しください。"
)

const (
	selectModePath = "/exam/select-mode"
	questionPath   = "/exam/question"
	resultPath     = "/exam/result"
)

var errUnknownMode = errors.New("unknown mode")

// Catalog is the part of the question-set store the handlers read.
type Catalog interface {
	CatalogFeed
	Index() *app.Index
	BuildIndex(ctx context.Context) (*app.Index, error)
}

// Deps wires the handler to the services it dispatches to.
type Deps struct {
	Catalog  Catalog
	Exams    *app.ExamService
	Sessions app.SessionRepository
	Cookies  *Cookies
	Renderer *Renderer
	Metrics  *Metrics
	Limiter  *RateLimiter
	Logger   *zap.Logger

	// ReloadPerRequest rebuilds the index before every page request.
	ReloadPerRequest bool
	// StaticDir, when set, is served for any path no route matches.
	StaticDir string
}

type Handler struct {
	Deps
	ws *WSHandler
}

func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	return &Handler{Deps: deps, ws: NewWSHandler(deps.Catalog, deps.Logger)}
}

// Router builds the full route table.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(h.Metrics.Middleware)

	r.HandleFunc("/api/status", h.status).Methods(http.MethodGet)
	r.Handle("/metrics", h.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/catalog", h.ws.ServeWS)

	pages := r.NewRoute().Subrouter()
	pages.Use(h.reloadMiddleware)
	pages.HandleFunc("/", h.root).Methods(http.MethodGet)
	pages.HandleFunc(selectModePath, h.selectMode).Methods(http.MethodGet)
	pages.HandleFunc("/exam/select-category/{mode}", h.selectCategory).Methods(http.MethodGet)
	pages.HandleFunc("/exam/pre-exam/{slug}", h.preExam).Methods(http.MethodGet)
	pages.HandleFunc(questionPath, h.question).Methods(http.MethodGet)
	pages.HandleFunc(resultPath, h.result).Methods(http.MethodGet)

	writes := r.NewRoute().Subrouter()
	writes.Use(h.Limiter.Middleware, h.reloadMiddleware)
	writes.HandleFunc("/exam/start", h.start).Methods(http.MethodPost)
	writes.HandleFunc("/exam/answer", h.answer).Methods(http.MethodPost)

	if h.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(h.StaticDir)))
	}
	return r
}

func (h *Handler) reloadMiddleware(next http.Handler) http.Handler {
	if !h.ReloadPerRequest {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.Catalog.BuildIndex(r.Context()); err != nil {
			h.Logger.Warn("index rebuild failed, serving previous snapshot", zap.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, selectModePath, http.StatusFound)
}

func (h *Handler) selectMode(w http.ResponseWriter, r *http.Request) {
	data := struct{ Modes []string }{Modes: h.Catalog.Index().Modes()}
	h.render(w, r, "select_mode", data)
}

type categoryGroup struct {
	Category string
	Sets     []domain.QuestionSetMeta
}

func (h *Handler) selectCategory(w http.ResponseWriter, r *http.Request) {
	mode := strings.TrimSuffix(mux.Vars(r)["mode"], ".html")
	idx := h.Catalog.Index()
	categories := idx.Categories(mode)
	if len(categories) == 0 {
		h.fail(w, r, errUnknownMode)
		return
	}
	groups := make([]categoryGroup, 0, len(categories))
	for _, c := range categories {
		groups = append(groups, categoryGroup{Category: c, Sets: idx.Sets(mode, c)})
	}
	data := struct {
		Mode   string
		Groups []categoryGroup
	}{Mode: mode, Groups: groups}
	h.render(w, r, "select_category", data)
}

type preExamView struct {
	domain.QuestionSetMeta
	Description string
}

func (h *Handler) preExam(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSuffix(mux.Vars(r)["slug"], ".html")
	if !domain.ValidSlug(slug) {
		h.fail(w, r, domain.ErrInvalidSlug)
		return
	}
	meta, ok := h.Catalog.Index().Lookup(slug)
	if !ok {
		h.fail(w, r, domain.ErrUnknownSlug)
		return
	}
	set, err := h.Exams.Preview(r.Context(), slug)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	meta.Title = set.Title
	meta.QuestionCount = len(set.Questions)
	meta.SecondsPerQuestion = set.SecondsPerQuestion
	h.render(w, r, "pre_exam", preExamView{QuestionSetMeta: meta, Description: set.Description})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	id := h.Cookies.VisitorID(w, r)
	session, err := h.Sessions.Load(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Exams.Start(r.Context(), &session, r.PostFormValue("question_set_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Sessions.Save(r.Context(), id, session); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, questionPath, http.StatusSeeOther)
}

func (h *Handler) question(w http.ResponseWriter, r *http.Request) {
	id := h.Cookies.VisitorID(w, r)
	session, err := h.Sessions.Load(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, finished, err := h.Exams.Current(r.Context(), session)
	if err != nil {
		h.dropOnDataFailure(r.Context(), id, err)
		h.fail(w, r, err)
		return
	}
	if finished {
		http.Redirect(w, r, resultPath, http.StatusSeeOther)
		return
	}
	h.render(w, r, "exam", q)
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request) {
	id := h.Cookies.VisitorID(w, r)
	session, err := h.Sessions.Load(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	finished, err := h.Exams.RecordAnswer(r.Context(), &session, r.PostFormValue("option"))
	if err != nil {
		h.dropOnDataFailure(r.Context(), id, err)
		h.fail(w, r, err)
		return
	}
	if err := h.Sessions.Save(r.Context(), id, session); err != nil {
		h.fail(w, r, err)
		return
	}
	if finished {
		http.Redirect(w, r, resultPath, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, questionPath, http.StatusSeeOther)
}

func (h *Handler) result(w http.ResponseWriter, r *http.Request) {
	id := h.Cookies.VisitorID(w, r)
	session, err := h.Sessions.Load(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.Exams.ComputeResult(r.Context(), &session)
	if !session.Active() {
		if delErr := h.Sessions.Delete(r.Context(), id); delErr != nil {
			h.Logger.Warn("failed to clear session", zap.String("visitor", id), zap.Error(delErr))
		}
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "results", result)
}

// dropOnDataFailure abandons an exam whose question set disappeared, so the
// visitor is not bounced back to the same broken attempt.
func (h *Handler) dropOnDataFailure(ctx context.Context, id string, err error) {
	if !errors.Is(err, domain.ErrDataUnavailable) {
		return
	}
	if delErr := h.Sessions.Delete(ctx, id); delErr != nil {
		h.Logger.Warn("failed to clear session", zap.String("visitor", id), zap.Error(delErr))
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, page string, data any) {
	notice := h.Cookies.PopFlash(w, r)
	if err := h.Renderer.Render(w, http.StatusOK, page, notice, data); err != nil {
		h.Logger.Error("render failed", zap.String("page", page), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// fail recovers err at the request boundary: the visitor is sent back to
// mode selection with a notice and never sees the internal error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	notice, known := noticeFor(err)
	if known {
		h.Logger.Info("request recovered", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.Logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	h.Cookies.Flash(w, notice)
	http.Redirect(w, r, selectModePath, http.StatusSeeOther)
}

func noticeFor(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrDataUnavailable), errors.Is(err, domain.ErrInvalidData):
		return noticeDataFailure, true
	case errors.Is(err, domain.ErrInvalidSlug), errors.Is(err, domain.ErrUnknownSlug):
		return noticeInvalidSet, true
	case errors.Is(err, domain.ErrNoActiveSession):
		return noticeNoSession, true
	case errors.Is(err, domain.ErrNoResult):
		return noticeNoResult, true
	case errors.Is(err, errUnknownMode):
		return noticeUnknownMode, true
	default:
		return noticeUnexpected, false
	}
}
