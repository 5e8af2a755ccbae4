package repositories

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/retail-backoffice/inventory-audit/internal/apperr"
	"github.com/retail-backoffice/inventory-audit/internal/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	sessionsCollection = "audit_sessions"
	activityCollection = "audit_session_activity"

	// indexTimeout bounds index creation, which runs detached from the
	// request that triggered it.
	indexTimeout = 30 * time.Second
)

// MongoBackend gives each tenant its own database named prefix+tenantID.
type MongoBackend struct {
	client   *mongo.Client
	dbPrefix string
}

func NewMongoBackend(client *mongo.Client, dbPrefix string) *MongoBackend {
	return &MongoBackend{client: client, dbPrefix: dbPrefix}
}

// Handle binds a tenant database. Indexes are created lazily on first use.
func (b *MongoBackend) Handle(tenantID string) StoreHandle {
	return &mongoHandle{
		tenantID:     tenantID,
		db:           b.client.Database(b.dbPrefix + tenantID),
		createIndexes: ensureMongoIndexes,
	}
}

// EnsureIndexes creates the unique reference index and the status lookup
// index for one tenant database.
func (b *MongoBackend) EnsureIndexes(ctx context.Context, tenantID string) error {
	return ensureMongoIndexes(ctx, b.client.Database(b.dbPrefix+tenantID))
}

func ensureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(sessionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "reference", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("tenant_reference_unique"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("tenant_status"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("created_at_desc"),
		},
	})
	if err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}
	_, err = db.Collection(activityCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("session_created_at"),
	})
	if err != nil {
		return fmt.Errorf("create activity indexes: %w", err)
	}
	return nil
}

type mongoHandle struct {
	tenantID     string
	db           *mongo.Database
	createIndexes func(context.Context, *mongo.Database) error

	indexMu    sync.Mutex
	indexReady bool
}

func (h *mongoHandle) TenantID() string { return h.tenantID }

func (h *mongoHandle) Sessions() SessionStore {
	return &mongoSessionStore{h: h, coll: h.db.Collection(sessionsCollection)}
}

func (h *mongoHandle) Activity() ActivityStore {
	return &mongoActivityStore{h: h, coll: h.db.Collection(activityCollection)}
}

// ensureIndexes creates the indexes until one attempt succeeds. A failed
// attempt is retried by the next caller. The request's cancellation does not
// reach index creation.
func (h *mongoHandle) ensureIndexes(ctx context.Context) error {
	h.indexMu.Lock()
	defer h.indexMu.Unlock()
	if h.indexReady {
		return nil
	}

	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), indexTimeout)
	defer cancel()
	if err := h.createIndexes(ictx, h.db); err != nil {
		return err
	}
	h.indexReady = true
	return nil
}

type entryDoc struct {
	ProductID     string           `bson:"product_id"`
	SKU           string           `bson:"sku"`
	Name          string           `bson:"name"`
	Category      string           `bson:"category"`
	ExpectedQty   bson.Decimal128  `bson:"expected_qty"`
	CountedQty    *bson.Decimal128 `bson:"counted_qty,omitempty"`
	Variance      *bson.Decimal128 `bson:"variance,omitempty"`
	Status        string           `bson:"status"`
	Notes         *string          `bson:"notes,omitempty"`
	LastCountedBy *string          `bson:"last_counted_by,omitempty"`
	LastCountedAt *time.Time       `bson:"last_counted_at,omitempty"`
}

type counterDoc struct {
	UserID string  `bson:"user_id"`
	Role   *string `bson:"role,omitempty"`
	Status string  `bson:"status"`
}

type attachmentDoc struct {
	Name       string    `bson:"name"`
	URL        string    `bson:"url"`
	UploadedAt time.Time `bson:"uploaded_at"`
	UploadedBy string    `bson:"uploaded_by"`
}

type sessionDoc struct {
	ID           string          `bson:"_id"`
	TenantID     string          `bson:"tenant_id"`
	Name         string          `bson:"name"`
	Reference    string          `bson:"reference"`
	Status       string          `bson:"status"`
	Type         string          `bson:"type"`
	StoreID      string          `bson:"store_id"`
	ScheduledFor *time.Time      `bson:"scheduled_for,omitempty"`
	DueDate      *time.Time      `bson:"due_date,omitempty"`
	Instructions *string         `bson:"instructions,omitempty"`
	Counters     []counterDoc    `bson:"counters"`
	Entries      []entryDoc      `bson:"entries"`
	Attachments  []attachmentDoc `bson:"attachments"`
	CreatedAt    time.Time       `bson:"created_at"`
	StartedAt    *time.Time      `bson:"started_at,omitempty"`
	CompletedAt  *time.Time      `bson:"completed_at,omitempty"`
	CancelledAt  *time.Time      `bson:"cancelled_at,omitempty"`
	CreatedBy    string          `bson:"created_by"`
	UpdatedBy    string          `bson:"updated_by"`
	Version      int             `bson:"version"`
	UpdatedAt    time.Time       `bson:"updated_at"`
}

func toDecimal128(d decimal.Decimal) (bson.Decimal128, error) {
	return bson.ParseDecimal128(d.String())
}

func optDecimal128(d *decimal.Decimal) (*bson.Decimal128, error) {
	if d == nil {
		return nil, nil
	}
	v, err := toDecimal128(*d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func fromDecimal128(v bson.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(v.String())
}

func optFromDecimal128(v *bson.Decimal128) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := fromDecimal128(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func newSessionDoc(s *models.AuditSession) (*sessionDoc, error) {
	doc := &sessionDoc{
		ID:           s.ID.String(),
		TenantID:     s.TenantID,
		Name:         s.Name,
		Reference:    s.Reference,
		Status:       s.Status,
		Type:         s.Type,
		StoreID:      s.StoreID,
		ScheduledFor: s.ScheduledFor,
		DueDate:      s.DueDate,
		Instructions: s.Instructions,
		Counters:     make([]counterDoc, 0, len(s.Counters)),
		Entries:      make([]entryDoc, 0, len(s.Entries)),
		Attachments:  make([]attachmentDoc, 0, len(s.Attachments)),
		CreatedAt:    s.Timeline.CreatedAt,
		StartedAt:    s.Timeline.StartedAt,
		CompletedAt:  s.Timeline.CompletedAt,
		CancelledAt:  s.Timeline.CancelledAt,
		CreatedBy:    s.CreatedBy,
		UpdatedBy:    s.UpdatedBy,
		Version:      s.Version,
		UpdatedAt:    s.UpdatedAt,
	}
	for _, c := range s.Counters {
		doc.Counters = append(doc.Counters, counterDoc(c))
	}
	for _, a := range s.Attachments {
		doc.Attachments = append(doc.Attachments, attachmentDoc(a))
	}
	for _, e := range s.Entries {
		expected, err := toDecimal128(e.ExpectedQty)
		if err != nil {
			return nil, fmt.Errorf("entry %s expected_qty: %w", e.ProductID, err)
		}
		counted, err := optDecimal128(e.CountedQty)
		if err != nil {
			return nil, fmt.Errorf("entry %s counted_qty: %w", e.ProductID, err)
		}
		variance, err := optDecimal128(e.Variance)
		if err != nil {
			return nil, fmt.Errorf("entry %s variance: %w", e.ProductID, err)
		}
		doc.Entries = append(doc.Entries, entryDoc{
			ProductID:     e.ProductID,
			SKU:           e.SKU,
			Name:          e.Name,
			Category:      e.Category,
			ExpectedQty:   expected,
			CountedQty:    counted,
			Variance:      variance,
			Status:        e.Status,
			Notes:         e.Notes,
			LastCountedBy: e.LastCountedBy,
			LastCountedAt: e.LastCountedAt,
		})
	}
	return doc, nil
}

func (d *sessionDoc) toModel() (*models.AuditSession, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode session id: %w", err)
	}
	s := &models.AuditSession{
		ID:           id,
		TenantID:     d.TenantID,
		Name:         d.Name,
		Reference:    d.Reference,
		Status:       d.Status,
		Type:         d.Type,
		StoreID:      d.StoreID,
		ScheduledFor: d.ScheduledFor,
		DueDate:      d.DueDate,
		Instructions: d.Instructions,
		Counters:     make([]models.Counter, 0, len(d.Counters)),
		Entries:      make([]models.AuditEntry, 0, len(d.Entries)),
		Attachments:  make([]models.Attachment, 0, len(d.Attachments)),
		Timeline: models.Timeline{
			CreatedAt:   d.CreatedAt,
			StartedAt:   d.StartedAt,
			CompletedAt: d.CompletedAt,
			CancelledAt: d.CancelledAt,
		},
		CreatedBy: d.CreatedBy,
		UpdatedBy: d.UpdatedBy,
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
	}
	for _, c := range d.Counters {
		s.Counters = append(s.Counters, models.Counter(c))
	}
	for _, a := range d.Attachments {
		s.Attachments = append(s.Attachments, models.Attachment(a))
	}
	for _, e := range d.Entries {
		expected, err := fromDecimal128(e.ExpectedQty)
		if err != nil {
			return nil, err
		}
		counted, err := optFromDecimal128(e.CountedQty)
		if err != nil {
			return nil, err
		}
		variance, err := optFromDecimal128(e.Variance)
		if err != nil {
			return nil, err
		}
		s.Entries = append(s.Entries, models.AuditEntry{
			ProductID:     e.ProductID,
			SKU:           e.SKU,
			Name:          e.Name,
			Category:      e.Category,
			ExpectedQty:   expected,
			CountedQty:    counted,
			Variance:      variance,
			Status:        e.Status,
			Notes:         e.Notes,
			LastCountedBy: e.LastCountedBy,
			LastCountedAt: e.LastCountedAt,
		})
	}
	return s, nil
}

type mongoSessionStore struct {
	h    *mongoHandle
	coll *mongo.Collection
}

func (r *mongoSessionStore) Insert(ctx context.Context, s *models.AuditSession) error {
	if err := r.h.ensureIndexes(ctx); err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.TenantID = r.h.tenantID
	doc, err := newSessionDoc(s)
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (r *mongoSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditSession, error) {
	var doc sessionDoc
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}, {Key: "tenant_id", Value: r.h.tenantID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("audit session", id.String())
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel()
}

func (r *mongoSessionStore) Update(ctx context.Context, s *models.AuditSession, expectedVersion int) error {
	s.TenantID = r.h.tenantID
	next := *s
	next.Version = expectedVersion + 1
	doc, err := newSessionDoc(&next)
	if err != nil {
		return err
	}

	res, err := r.coll.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: s.ID.String()},
		{Key: "tenant_id", Value: r.h.tenantID},
		{Key: "version", Value: expectedVersion},
	}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: s.ID.String()}, {Key: "tenant_id", Value: r.h.tenantID}})
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("audit session", s.ID.String())
		}
		return apperr.Conflict("audit session", s.ID.String())
	}
	s.Version = next.Version
	return nil
}

func (r *mongoSessionStore) List(ctx context.Context, f SessionFilter) ([]models.AuditSession, int64, error) {
	f = f.Normalize()

	filter := bson.D{{Key: "tenant_id", Value: r.h.tenantID}}
	if f.Status != nil {
		filter = append(filter, bson.E{Key: "status", Value: *f.Status})
	}
	if f.Type != nil {
		filter = append(filter, bson.E{Key: "type", Value: *f.Type})
	}
	if f.StoreID != nil {
		filter = append(filter, bson.E{Key: "store_id", Value: *f.StoreID})
	}
	if f.Search != nil && *f.Search != "" {
		filter = append(filter, bson.E{Key: "name", Value: bson.Regex{Pattern: regexp.QuoteMeta(*f.Search), Options: "i"}})
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "reference", Value: -1}}).
		SetSkip(int64(f.Offset())).
		SetLimit(int64(f.Limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	sessions := []models.AuditSession{}
	for cur.Next(ctx) {
		var doc sessionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, err
		}
		s, err := doc.toModel()
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, total, cur.Err()
}

type activityDoc struct {
	ID          string         `bson:"_id"`
	TenantID    string         `bson:"tenant_id"`
	SessionID   string         `bson:"session_id"`
	ActorUserID string         `bson:"actor_user_id"`
	Action      string         `bson:"action"`
	Meta        map[string]any `bson:"meta,omitempty"`
	CreatedAt   time.Time      `bson:"created_at"`
}

func (d *activityDoc) toModel() (models.ActivityLog, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return models.ActivityLog{}, fmt.Errorf("decode activity id: %w", err)
	}
	sid, err := uuid.Parse(d.SessionID)
	if err != nil {
		return models.ActivityLog{}, fmt.Errorf("decode activity session id: %w", err)
	}
	return models.ActivityLog{
		ID:          id,
		TenantID:    d.TenantID,
		SessionID:   sid,
		ActorUserID: d.ActorUserID,
		Action:      d.Action,
		Meta:        d.Meta,
		CreatedAt:   d.CreatedAt,
	}, nil
}

type mongoActivityStore struct {
	h    *mongoHandle
	coll *mongo.Collection
}

func (r *mongoActivityStore) Log(ctx context.Context, entry models.ActivityLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.coll.InsertOne(ctx, activityDoc{
		ID:          entry.ID.String(),
		TenantID:    r.h.tenantID,
		SessionID:   entry.SessionID.String(),
		ActorUserID: entry.ActorUserID,
		Action:      entry.Action,
		Meta:        entry.Meta,
		CreatedAt:   entry.CreatedAt,
	})
	return err
}

func (r *mongoActivityStore) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]models.ActivityLog, error) {
	limit, offset = normalizeActivityPage(limit, offset)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, bson.D{
		{Key: "tenant_id", Value: r.h.tenantID},
		{Key: "session_id", Value: sessionID.String()},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	logs := []models.ActivityLog{}
	for cur.Next(ctx) {
		var doc activityDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		l, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, cur.Err()
}
