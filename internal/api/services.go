package api

import (
	"context"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/models"
	"trades-marketplace/internal/services/admin"
	"trades-marketplace/internal/services/applications"
	"trades-marketplace/internal/services/jobs"
	"trades-marketplace/internal/services/messaging"
	"trades-marketplace/internal/services/payments"
	"trades-marketplace/internal/services/reviews"
	"trades-marketplace/internal/services/search"
	"trades-marketplace/internal/services/users"
)

type UserService interface {
	PasswordStrength(password, email string) models.PasswordStrength
	Register(ctx context.Context, req users.RegisterRequest) (*models.AuthToken, error)
	Login(ctx context.Context, req users.LoginRequest) (*models.AuthToken, error)
	Logout(ctx context.Context, p auth.Principal) error
	Get(ctx context.Context, id string) (*models.User, error)
	GetPublic(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID string, update users.ProfileUpdate) (*models.User, error)
}

type JobService interface {
	Create(ctx context.Context, actor auth.Principal, req jobs.CreateRequest) (*models.Job, error)
	Get(ctx context.Context, viewer auth.Principal, id string) (*models.Job, error)
	List(ctx context.Context, f jobs.Filter) (*models.Page[models.Job], error)
	Update(ctx context.Context, actor auth.Principal, id string, req jobs.UpdateRequest) (*models.Job, error)
	Cancel(ctx context.Context, actor auth.Principal, id string) (*models.Job, error)
	Complete(ctx context.Context, actor auth.Principal, id string) (*models.Job, error)
}

type ApplicationService interface {
	Apply(ctx context.Context, actor auth.Principal, req applications.CreateRequest) (*models.Application, error)
	ListForJob(ctx context.Context, actor auth.Principal, jobID, status string) ([]models.Application, error)
	ListMine(ctx context.Context, actor auth.Principal, status string) ([]models.Application, error)
	Accept(ctx context.Context, actor auth.Principal, applicationID string) (*models.Application, error)
	Reject(ctx context.Context, actor auth.Principal, applicationID string) (*models.Application, error)
	Withdraw(ctx context.Context, actor auth.Principal, applicationID string) (*models.Application, error)
}

type MessagingService interface {
	StartConversation(ctx context.Context, actor auth.Principal, req messaging.StartRequest) (*models.Conversation, bool, error)
	ListConversations(ctx context.Context, actor auth.Principal) ([]models.Conversation, error)
	Send(ctx context.Context, actor auth.Principal, conversationID string, req messaging.SendRequest) (*models.Message, error)
	ListMessages(ctx context.Context, actor auth.Principal, conversationID string, before *time.Time, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, actor auth.Principal, conversationID string) (*models.ReadReceipt, error)
}

type PaymentService interface {
	CreateIntent(ctx context.Context, actor auth.Principal, req payments.CreateIntentRequest) (*models.PaymentIntent, error)
	Confirm(ctx context.Context, actor auth.Principal, intentID string) (*payments.ConfirmResult, error)
	GetEscrow(ctx context.Context, actor auth.Principal, jobID string) (*models.EscrowAccount, error)
	Release(ctx context.Context, actor auth.Principal, jobID string) (*models.EscrowAccount, error)
	Refund(ctx context.Context, actor auth.Principal, jobID string) (*models.EscrowAccount, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type ReviewService interface {
	Create(ctx context.Context, actor auth.Principal, req reviews.CreateRequest) (*models.Review, error)
	List(ctx context.Context, userID string, limit, offset int) (*models.Page[models.Review], error)
	Summary(ctx context.Context, userID string) (*models.RatingSummary, error)
}

type SearchService interface {
	SearchJobs(ctx context.Context, q search.JobQuery) (*search.Result[search.JobDocument], error)
	SearchWorkers(ctx context.Context, q search.WorkerQuery) (*search.Result[search.WorkerDocument], error)
}

type NotificationService interface {
	List(ctx context.Context, actor auth.Principal, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, actor auth.Principal, id string) error
}

type AdminService interface {
	ListUsers(ctx context.Context, f admin.UserFilter) (*models.Page[models.User], error)
	Suspend(ctx context.Context, actor auth.Principal, userID string, req admin.ModerationRequest) (*models.User, error)
	Unsuspend(ctx context.Context, actor auth.Principal, userID string, req admin.ModerationRequest) (*models.User, error)
	RemoveJob(ctx context.Context, actor auth.Principal, jobID string, req admin.ModerationRequest) (*models.Job, error)
	Stats(ctx context.Context) (*admin.Stats, error)
	AuditLog(ctx context.Context, f admin.AuditFilter) (*models.Page[models.AuditEntry], error)
}
