package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/retail-backoffice/inventory-audit/internal/models"
	"go.uber.org/zap"
)

// CatalogClient talks to the master-data service that owns stores, users and
// products. Sessions only keep opaque ids; this client resolves them for display.
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewCatalogClient(baseURL string, log *zap.Logger) *CatalogClient {
	return &CatalogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

type LookupRequest struct {
	StoreIDs   []string `json:"store_ids"`
	UserIDs    []string `json:"user_ids"`
	ProductIDs []string `json:"product_ids"`
}

type LookupResult struct {
	Stores   map[string]models.StoreSummary   `json:"stores"`
	Users    map[string]models.UserSummary    `json:"users"`
	Products map[string]models.ProductSummary `json:"products"`
}

func (c *CatalogClient) Lookup(ctx context.Context, tenantID string, req LookupRequest) (*LookupResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/internal/tenants/%s/lookup", c.baseURL, url.PathEscape(tenantID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("catalog service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("catalog service returned %d: %s", resp.StatusCode, string(b))
	}

	var result LookupResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Enricher wraps sessions in views carrying store, user and product
// summaries. It never fails: without a catalog, or when the lookup errors,
// the bare views are returned.
type Enricher struct {
	catalog *CatalogClient
	log     *zap.Logger
}

func NewEnricher(catalog *CatalogClient, log *zap.Logger) *Enricher {
	return &Enricher{catalog: catalog, log: log}
}

func (e *Enricher) Views(ctx context.Context, tenantID string, sessions []models.AuditSession) []models.AuditSessionView {
	views := make([]models.AuditSessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, models.NewAuditSessionView(&sessions[i]))
	}
	if e == nil || e.catalog == nil || len(sessions) == 0 {
		return views
	}

	result, err := e.catalog.Lookup(ctx, tenantID, collectIDs(sessions))
	if err != nil {
		e.log.Warn("session enrichment failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return views
	}

	for i := range views {
		v := &views[i]
		if st, ok := result.Stores[v.StoreID]; ok {
			v.Store = &st
		}
		v.Users = pick(result.Users, sessionUserIDs(&v.AuditSession))
		v.Products = pick(result.Products, sessionProductIDs(&v.AuditSession))
	}
	return views
}

func (e *Enricher) View(ctx context.Context, tenantID string, s *models.AuditSession) models.AuditSessionView {
	return e.Views(ctx, tenantID, []models.AuditSession{*s})[0]
}

func collectIDs(sessions []models.AuditSession) LookupRequest {
	stores, users, products := newIDSet(), newIDSet(), newIDSet()
	for i := range sessions {
		stores.add(sessions[i].StoreID)
		users.add(sessionUserIDs(&sessions[i])...)
		products.add(sessionProductIDs(&sessions[i])...)
	}
	return LookupRequest{StoreIDs: stores.list, UserIDs: users.list, ProductIDs: products.list}
}

func sessionUserIDs(s *models.AuditSession) []string {
	ids := []string{s.CreatedBy, s.UpdatedBy}
	for _, c := range s.Counters {
		ids = append(ids, c.UserID)
	}
	for _, e := range s.Entries {
		if e.LastCountedBy != nil {
			ids = append(ids, *e.LastCountedBy)
		}
	}
	return ids
}

func sessionProductIDs(s *models.AuditSession) []string {
	ids := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		ids = append(ids, e.ProductID)
	}
	return ids
}

func pick[T any](all map[string]T, ids []string) map[string]T {
	if len(all) == 0 {
		return nil
	}
	out := make(map[string]T)
	for _, id := range ids {
		if v, ok := all[id]; ok {
			out[id] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type idSet struct {
	seen map[string]bool
	list []string
}

func newIDSet() *idSet { return &idSet{seen: map[string]bool{}, list: []string{}} }

func (s *idSet) add(ids ...string) {
	for _, id := range ids {
		if id == "" || s.seen[id] {
			continue
		}
		s.seen[id] = true
		s.list = append(s.list, id)
	}
}
