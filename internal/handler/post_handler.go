package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/postlane/publish-engine/internal/domain"
	"github.com/postlane/publish-engine/internal/repository"
	"github.com/postlane/publish-engine/internal/service"
)

// PostHandler exposes post intake plus a read surface for the composing UI,
// which polls status and the audit trail after submission.
type PostHandler struct {
	intake  *service.Intake
	posts   repository.PostRepository
	retries repository.RetryRepository
	logs    repository.LogRepository
}

func NewPostHandler(
	intake *service.Intake,
	posts repository.PostRepository,
	retries repository.RetryRepository,
	logs repository.LogRepository,
) *PostHandler {
	return &PostHandler{intake: intake, posts: posts, retries: retries, logs: logs}
}

func (h *PostHandler) RegisterRoutes(app fiber.Router) {
	app.Post("/posts", h.CreatePost)
	app.Get("/posts/:id", h.GetPost)
}

type createPostRequest struct {
	ProjectID    string                 `json:"projectId"`
	UserID       string                 `json:"userId"`
	Kind         string                 `json:"kind"`
	Caption      string                 `json:"caption"`
	FirstComment *string                `json:"firstComment,omitempty"`
	PublishMode  string                 `json:"publishMode"`
	Media        []domain.MediaItem     `json:"media"`
	ScheduleKind string                 `json:"scheduleKind"`
	ScheduledAt  *time.Time             `json:"scheduledAt,omitempty"`
	Recurrence   *domain.RecurrenceRule `json:"recurrence,omitempty"`
	Backend      string                 `json:"backend"`
	WebhookURL   *string                `json:"webhookUrl,omitempty"`
}

func (r *createPostRequest) toDomain() (*domain.Post, error) {
	kind, err := domain.ParseKindFromString(r.Kind)
	if err != nil {
		return nil, err
	}
	backendKind, err := domain.ParseBackendKindFromString(r.Backend)
	if err != nil {
		return nil, err
	}

	publishMode := domain.PublishMode(r.PublishMode)
	if publishMode == "" {
		publishMode = domain.PublishModeDirect
	}
	scheduleKind := domain.ScheduleKind(r.ScheduleKind)
	if scheduleKind == "" {
		scheduleKind = domain.ScheduleImmediate
	}

	return &domain.Post{
		ProjectID:    r.ProjectID,
		UserID:       r.UserID,
		Kind:         kind,
		Caption:      r.Caption,
		FirstComment: r.FirstComment,
		PublishMode:  publishMode,
		Media:        r.Media,
		ScheduleKind: scheduleKind,
		ScheduledAt:  r.ScheduledAt,
		Recurrence:   r.Recurrence,
		Backend:      backendKind,
		WebhookURL:   r.WebhookURL,
	}, nil
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	var req createPostRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	post, err := req.toDomain()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	created, err := h.intake.CreatePost(c.UserContext(), post)
	if err != nil {
		return mapDomainError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

type postDetailResponse struct {
	Post       *domain.Post     `json:"post"`
	Logs       []domain.PostLog `json:"logs"`
	RetryCount int64            `json:"retryCount"`
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	ctx := c.UserContext()

	post, err := h.posts.GetByID(ctx, c.Params("id"))
	if err != nil {
		return mapDomainError(err)
	}

	logs, err := h.logs.ListByPostID(ctx, post.ID)
	if err != nil {
		return err
	}
	retryCount, err := h.retries.CountByPostID(ctx, post.ID)
	if err != nil {
		return err
	}

	return c.JSON(postDetailResponse{
		Post:       post,
		Logs:       logs,
		RetryCount: retryCount,
	})
}

func mapDomainError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
