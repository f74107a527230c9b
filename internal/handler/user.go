package handler

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"openfms/console/internal/apperr"
	"openfms/console/internal/model"
	"openfms/console/internal/service"
)

// UserHandler handles company user requests
type UserHandler struct {
	fetcher *service.Fetcher
	deps    service.FormDeps
	create  *service.Form[model.UserInput]

	mu      sync.Mutex
	editing map[int64]bool
}

// NewUserHandler creates a new user handler
func NewUserHandler(fetcher *service.Fetcher, deps service.FormDeps) *UserHandler {
	return &UserHandler{
		fetcher: fetcher,
		deps:    deps,
		create:  service.NewUserForm(deps),
		editing: make(map[int64]bool),
	}
}

// List returns all users
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.fetcher.Users(c.Request.Context())
	if err != nil {
		respondError(c, err, apperr.GenericFailure)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users, "total": len(users)})
}

// Create submits the add-company-user form
func (h *UserHandler) Create(c *gin.Context) {
	input := model.DefaultUserInput()
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	submitForm(c, h.create, input, http.StatusCreated)
}

// Update overlays the edited name/email/phone on the loaded record of user :id
// and sends the full record back.
func (h *UserHandler) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return
	}

	var edit model.UserEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	users, err := h.fetcher.Users(c.Request.Context())
	if err != nil {
		respondError(c, err, apperr.GenericFailure)
		return
	}
	var current *model.User
	for i := range users {
		if users[i].ID == id {
			current = &users[i]
			break
		}
	}
	if current == nil {
		respondError(c, apperr.ErrUserNotFound, apperr.GenericFailure)
		return
	}

	if !h.beginEdit(id) {
		respondError(c, apperr.ErrSubmitInProgress, apperr.GenericFailure)
		return
	}
	defer h.endEdit(id)

	// 每次编辑都从最新加载的记录建表单
	form := service.NewEditUserForm(h.deps, *current)
	submitForm(c, form, edit.Apply(*current), http.StatusOK)
}

// beginEdit refuses a second edit of the same user while the first is submitting.
func (h *UserHandler) beginEdit(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.editing[id] {
		return false
	}
	h.editing[id] = true
	return true
}

func (h *UserHandler) endEdit(id int64) {
	h.mu.Lock()
	delete(h.editing, id)
	h.mu.Unlock()
}
