package router

import (
	"net/http"

	"github.com/erp/fulfillment/internal/interfaces/http/handler"
	"github.com/erp/fulfillment/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup creates a route group for a specific domain
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	subgroups  []*DomainGroup
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{
		name:   name,
		prefix: prefix,
	}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{
		method:   method,
		path:     path,
		handlers: handlers,
	})
	return dg
}

// Group creates a sub-group within this domain
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	subgroup := NewDomainGroup(name, prefix)
	dg.subgroups = append(dg.subgroups, subgroup)
	return subgroup
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}

	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}

	for _, subgroup := range dg.subgroups {
		subgroup.RegisterRoutes(group)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}

// Handlers bundles the HTTP handlers of the service
type Handlers struct {
	Webhook *handler.WebhookHandler
	Admin   *handler.AdminHandler
	System  *handler.SystemHandler
}

// Options configures the fulfillment route groups
type Options struct {
	// AdminToken guards /admin; empty disables the admin API
	AdminToken string
	// WebhookMaxBodySize bounds webhook bodies; <= 0 uses the default
	WebhookMaxBodySize int64
}

// RegisterFulfillmentRoutes registers the webhook, admin and system groups
func RegisterFulfillmentRoutes(r *Router, h Handlers, opts Options) {
	webhooks := NewDomainGroup("webhooks", "/webhooks").
		Use(middleware.BodyLimit(opts.WebhookMaxBodySize)).
		POST("/crm", h.Webhook.HandleCrmWebhook).
		POST("/carrier", h.Webhook.HandleCarrierWebhook)

	admin := NewDomainGroup("admin", "/admin").Use(middleware.AdminAuth(opts.AdminToken))
	admin.Group("orders", "/orders").
		GET("/:leadId", h.Admin.GetOrder).
		POST("/:leadId/tracker", h.Admin.LinkTracker)
	admin.Group("trackers", "/trackers").
		POST("/:tracker/reconcile", h.Admin.ReconcileTracker)
	admin.Group("leads", "/leads").
		POST("/:leadId/sync", h.Admin.SyncLead)
	admin.Group("scheduler", "/scheduler").
		GET("/history", h.Admin.SchedulerHistory).
		POST("/passes/:kind", h.Admin.RunPass)

	system := NewDomainGroup("system", "/system").
		GET("/info", h.System.GetSystemInfo).
		GET("/health", h.System.Health)

	r.Register(webhooks).Register(admin).Register(system)
}
