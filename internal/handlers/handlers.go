package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cmsauth/internal/config"
	"cmsauth/internal/middleware"
	"cmsauth/internal/models"
	"cmsauth/internal/repository"
	"cmsauth/internal/security"
	"cmsauth/internal/service"
)

type HandlerSet struct {
	log           zerolog.Logger
	cfg           *config.AppConfig
	store         *repository.Store
	cache         *redis.Client
	guard         *service.AccessGuard
	authService   *service.AuthService
	adminService  *service.AdminService
	avatarService *service.AvatarService
}

// NewHandlerSet wires the services behind the HTTP surface. cache and avatars may be nil;
// without avatars the upload route is not registered.
func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, store *repository.Store, cache *redis.Client, avatars service.AvatarStore) HandlerSet {
	hasher := security.NewPasswordHasher(cfg.Security)
	tokens := security.NewTokenIssuer(cfg.Security)

	h := HandlerSet{
		log:          log,
		cfg:          cfg,
		store:        store,
		cache:        cache,
		guard:        service.NewAccessGuard(store.Users, tokens),
		authService:  service.NewAuthService(store.Users, store.Sessions, hasher, tokens, cfg, log),
		adminService: service.NewAdminService(store.Users, log),
	}
	if avatars != nil {
		h.avatarService = service.NewAvatarService(store.Users, avatars, cfg.Storage.MaxAvatarBytes, log)
	}
	return h
}

func (h HandlerSet) AuthService() *service.AuthService {
	return h.authService
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	auth := router.Group("/auth")
	{
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
	}

	protected := router.Group("/auth")
	protected.Use(middleware.Auth(h.guard))
	{
		protected.GET("/me", h.Me)
		protected.GET("/sessions", h.ListSessions)
		protected.DELETE("/sessions/:id", h.RevokeSession)
		if h.avatarService != nil {
			protected.POST("/me/avatar", h.UploadAvatar)
		}
	}

	admin := router.Group("/admin")
	admin.Use(
		middleware.Auth(h.guard),
		middleware.RequireRoles(models.UserRoleAdmin),
	)
	{
		admin.GET("/users", h.AdminListUsers)
		admin.GET("/users/:id", h.AdminGetUser)
		admin.PUT("/users/:id", h.AdminUpdateUser)
		admin.DELETE("/users/:id", h.AdminDeleteUser)
		admin.POST("/users/bulk-action", h.AdminBulkAction)
		admin.DELETE("/users/bulk", h.AdminBulkDelete)
		admin.GET("/stats", h.AdminStats)
	}
}
