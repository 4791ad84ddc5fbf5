package download

import (
	"context"
	"errors"
	"net/url"
	"time"

	"digitalstore/pkg/config"
	"digitalstore/pkg/errutil"
	"digitalstore/pkg/session"
	"digitalstore/services/catalog"
	"digitalstore/services/entitlement"
	"digitalstore/services/order"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const adminRole = "admin"

type Service struct {
	cfg          *config.Config
	catalog      *catalog.Service
	orders       *order.Service
	entitlements *entitlement.Service
	store        ObjectStore
}

type ServiceParams struct {
	fx.In
	Config       *config.Config
	Catalog      *catalog.Service
	Orders       *order.Service
	Entitlements *entitlement.Service
	Store        ObjectStore
}

func NewService(p ServiceParams) *Service {
	return &Service{
		cfg:          p.Config,
		catalog:      p.Catalog,
		orders:       p.Orders,
		entitlements: p.Entitlements,
		store:        p.Store,
	}
}

type TokenRequest struct {
	OrderID    string
	ProductID  string
	VariantID  string
	RemoteAddr string
	UserAgent  string
}

type TokenGrant struct {
	DownloadURL        string    `json:"download_url"`
	RemainingDownloads int       `json:"remaining_downloads"`
	ExpiresAt          time.Time `json:"expires_at"`
	ProductTitle       string    `json:"product_title"`
}

// IssueToken runs the full precondition chain before minting a
// short-lived capability token. Issuance spends one download unit;
// redemption at the gateway is verify-and-stream only, so a minted but
// never redeemed token still counts.
func (s *Service) IssueToken(ctx context.Context, identity *session.Identity, req TokenRequest) (*TokenGrant, error) {
	if identity == nil {
		return nil, errutil.Unauthorized("authentication required", nil)
	}

	o, err := s.resolveOrder(ctx, identity, req.OrderID)
	if err != nil {
		return nil, err
	}

	contains, err := s.orders.ContainsItem(ctx, o.ID, req.ProductID, req.VariantID)
	if err != nil {
		return nil, err
	}
	if !contains {
		return nil, errutil.Forbidden("order does not contain this product", nil)
	}

	product, err := s.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	downloadable, err := s.catalog.HasDigitalFile(ctx, req.ProductID, req.VariantID)
	if err != nil {
		return nil, err
	}
	if !downloadable {
		return nil, errutil.NotFound("product has no downloadable file", nil)
	}

	e, err := s.entitlements.FindByKey(ctx, o.ID, req.ProductID, req.VariantID)
	if err != nil {
		return nil, err
	}

	e, err = s.entitlements.Consume(ctx, e.ID, entitlement.ConsumeMeta{
		RemoteAddr: req.RemoteAddr,
		UserAgent:  req.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	token := SignToken(s.cfg.Download.Secret, o.ID, req.ProductID, identity.UserID, req.VariantID, time.Now())

	q := url.Values{}
	q.Set("token", token)
	q.Set("order", o.ID)
	q.Set("product", req.ProductID)
	if req.VariantID != "" {
		q.Set("variant", req.VariantID)
	}

	return &TokenGrant{
		DownloadURL:        s.cfg.BaseURL + "/v1/downloads/file?" + q.Encode(),
		RemainingDownloads: e.Remaining(),
		ExpiresAt:          e.ExpiresAt,
		ProductTitle:       product.Title,
	}, nil
}

type ServeRequest struct {
	Token      string
	OrderID    string
	ProductID  string
	VariantID  string
	RemoteAddr string
	UserAgent  string
}

type ServedFile struct {
	Object   *StoredObject
	Filename string
}

// ServeFile redeems a capability token and streams the bound file.
// Redemption is verify-and-stream: the quota was spent at issuance, so
// no ledger mutation happens here. Ownership is re-verified even with
// a valid token.
func (s *Service) ServeFile(ctx context.Context, identity *session.Identity, req ServeRequest) (*ServedFile, error) {
	if identity == nil {
		return nil, errutil.Unauthorized("authentication required", nil)
	}

	err := VerifyToken(
		s.cfg.Download.Secret, req.Token,
		req.OrderID, req.ProductID, identity.UserID, req.VariantID,
		s.cfg.Download.TokenTTL, time.Now(),
	)
	if err != nil {
		return nil, err
	}

	if _, err := s.resolveOrder(ctx, identity, req.OrderID); err != nil {
		return nil, err
	}

	file, err := s.catalog.ResolveFile(ctx, req.ProductID, req.VariantID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, errutil.NotFound("product has no downloadable file", nil)
	}

	obj, err := s.store.FetchObject(ctx, file.ObjectKey, s.cfg.Download.FetchTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errutil.GatewayTimeout("file store timed out", err)
		}
		zap.L().Error("failed to fetch object",
			zap.String("object_key", file.ObjectKey),
			zap.Error(err),
		)
		return nil, errutil.NotFound("unable to fetch file", nil)
	}

	return &ServedFile{
		Object:   obj,
		Filename: file.Filename,
	}, nil
}

// resolveOrder loads the order and enforces ownership, letting admins
// through for support downloads.
func (s *Service) resolveOrder(ctx context.Context, identity *session.Identity, orderID string) (*order.Order, error) {
	if identity.HasRole(adminRole) {
		return s.orders.GetOrder(ctx, orderID)
	}
	return s.orders.GetOwnedOrder(ctx, orderID, identity.UserID)
}

// ListEntry is one row of the customer's downloads page.
type ListEntry struct {
	OrderID            string    `json:"order_id"`
	ProductID          string    `json:"product_id"`
	VariantID          string    `json:"variant_id,omitempty"`
	ProductTitle       string    `json:"product_title"`
	RemainingDownloads int       `json:"remaining_downloads"`
	MaxDownloads       int       `json:"max_downloads"`
	ExpiresAt          time.Time `json:"expires_at"`
	Expired            bool      `json:"expired"`
}

// ListDownloads assembles the downloads page from the caller's ledger
// rows.
func (s *Service) ListDownloads(ctx context.Context, identity *session.Identity) ([]*ListEntry, error) {
	if identity == nil {
		return nil, errutil.Unauthorized("authentication required", nil)
	}

	entitlements, err := s.entitlements.ListByOwner(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entries := make([]*ListEntry, 0, len(entitlements))
	for _, e := range entitlements {
		entry := &ListEntry{
			OrderID:            e.OrderRef,
			ProductID:          e.ProductRef,
			VariantID:          e.VariantRef,
			RemainingDownloads: e.Remaining(),
			MaxDownloads:       e.MaxDownloads,
			ExpiresAt:          e.ExpiresAt,
			Expired:            e.Expired(now),
		}

		if product, err := s.catalog.GetProduct(ctx, e.ProductRef); err == nil {
			entry.ProductTitle = product.Title
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
