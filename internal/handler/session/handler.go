package session

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-insight/backend/internal/model/session"
	sessionsvc "github.com/zhouzirui/z-insight/backend/internal/service/session"
	"github.com/zhouzirui/z-insight/backend/pkg/utils"
)

// Store 抽象会话存储，便于测试替换
type Store interface {
	Create() session.Session
	History(id string) ([]session.Record, error)
	Context(id string) session.Context
	Delete(id string) bool
}

// Handler 会话管理的HTTP处理器
type Handler struct {
	store Store
}

// New 创建会话处理器
func New(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(sr chi.Router) {
		sr.Post("/", h.handleCreate)
		sr.Get("/{id}/history", h.handleHistory)
		sr.Get("/{id}/context", h.handleContext)
		sr.Delete("/{id}", h.handleDelete)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusCreated, h.store.Create())
}

// handleHistory 返回会话历史，旧记录在前
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.History(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, sessionsvc.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, records)
}

// handleContext 返回上下文快照，未知会话得到空快照
func (h *Handler) handleContext(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.Context(chi.URLParam(r, "id")))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	deleted := h.store.Delete(chi.URLParam(r, "id"))
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}
