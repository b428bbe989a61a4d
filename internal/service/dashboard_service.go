package service

import (
	"context"
	"time"

	"producer-dashboard/internal/models"
	"producer-dashboard/internal/pagination"
	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Screens of the dashboard
const (
	ScreenConnect   = "connect"
	ScreenError     = "error"
	ScreenRegister  = "register"
	ScreenDashboard = "dashboard"
)

// DashboardView is everything the dashboard renders for one request
type DashboardView struct {
	Screen    string                  `json:"screen"`
	Address   string                  `json:"address,omitempty"`
	Profile   *models.ProducerProfile `json:"profile,omitempty"`
	Products  []models.ProductSummary `json:"products"`
	Page      pagination.Page         `json:"page"`
	ScannedAt *time.Time              `json:"scanned_at,omitempty"`
	Stale     bool                    `json:"stale"`
	Feedback  models.FeedbackState    `json:"feedback"`
	ReadError string                  `json:"read_error,omitempty"`
	ScanError string                  `json:"scan_error,omitempty"`
}

// DashboardService assembles the dashboard from the profile, product and feedback state
type DashboardService struct {
	profiles    *ProfileService
	products    *ProductService
	feedback    FeedbackStore
	pageSize    int
	maxPageSize int
	logger      *zap.Logger
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(profiles *ProfileService, products *ProductService, feedback FeedbackStore, pageSize, maxPageSize int) *DashboardService {
	if maxPageSize < 1 {
		maxPageSize = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &DashboardService{
		profiles:    profiles,
		products:    products,
		feedback:    feedback,
		pageSize:    pageSize,
		maxPageSize: maxPageSize,
		logger:      util.GetLogger(),
	}
}

// Build reads what the session needs to see. Without a session nothing is read.
// size <= 0 selects the default page size.
func (s *DashboardService) Build(ctx context.Context, session *models.Session, page, size int) *DashboardView {
	view := &DashboardView{
		Screen:   ScreenConnect,
		Products: []models.ProductSummary{},
		Page:     pagination.Paginate(0, 1, s.pageSize, s.maxPageSize),
		Feedback: models.FeedbackState{Status: models.FeedbackIdle},
	}
	if session == nil {
		return view
	}

	ctx, span := util.StartSpan(ctx, "DashboardService.Build")
	defer span.End()

	view.Address = session.Address
	addr := common.HexToAddress(session.Address)

	if fb, err := s.feedback.GetFeedback(ctx, session.ID); err != nil {
		s.logger.Warn("Failed to read feedback", zap.String("session", session.ID), zap.Error(err))
	} else {
		view.Feedback = fb
	}

	profile, err := s.profiles.GetProfile(ctx, addr)
	if err != nil {
		util.RecordError(span, err)
		view.Screen = ScreenError
		view.ReadError = Normalize(err)
		return view
	}
	view.Profile = profile

	if !profile.IsRegistered {
		view.Screen = ScreenRegister
		return view
	}

	view.Screen = ScreenDashboard
	listing := s.products.List(ctx, addr)
	if listing.ScanErr != nil {
		view.ScanError = Normalize(listing.ScanErr)
		view.Stale = len(listing.Items) > 0
	}
	if !listing.ScannedAt.IsZero() {
		at := listing.ScannedAt
		view.ScannedAt = &at
	}

	if size <= 0 {
		size = s.pageSize
	}
	view.Page = pagination.Paginate(len(listing.Items), page, size, s.maxPageSize)
	view.Products = pagination.Slice(listing.Items, view.Page)
	return view
}
