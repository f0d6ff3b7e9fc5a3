package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/kart-io/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/pkg/errors"
)

// MongoDB 集合名称。
const (
	CollectionItems    = "content_items"
	CollectionSessions = "chat_sessions"
	CollectionAgents   = "agents"
)

// 文本索引权重：标题命中比正文更重要。
var textIndexWeights = bson.D{
	{Key: "title", Value: 10},
	{Key: "description", Value: 5},
	{Key: "text", Value: 1},
}

// EnsureIndexes 创建各集合所需的索引，可重复调用。
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	items := db.Collection(CollectionItems)
	_, err := items.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "title", Value: "text"}, {Key: "description", Value: "text"}, {Key: "text", Value: "text"}},
			Options: mongoopts.Index().
				SetName("items_text").
				SetWeights(textIndexWeights).
				SetDefaultLanguage("english"),
		},
		{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: mongoopts.Index().SetName("items_tenant")},
		{Keys: bson.D{{Key: "agent_ids", Value: 1}}, Options: mongoopts.Index().SetName("items_agents")},
		{Keys: bson.D{{Key: "status", Value: 1}}, Options: mongoopts.Index().SetName("items_status")},
	})
	if err != nil {
		return errors.ErrKBStorage.WithCause(err).WithMessage("create content_items indexes")
	}

	sessions := db.Collection(CollectionSessions)
	_, err = sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: mongoopts.Index().SetName("sessions_owner"),
	})
	if err != nil {
		return errors.ErrKBStorage.WithCause(err).WithMessage("create chat_sessions indexes")
	}

	agents := db.Collection(CollectionAgents)
	_, err = agents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}},
		Options: mongoopts.Index().SetName("agents_tenant"),
	})
	if err != nil {
		return errors.ErrKBStorage.WithCause(err).WithMessage("create agents indexes")
	}

	logger.Infow("MongoDB indexes ensured", "database", db.Name())
	return nil
}

func storageErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return err
	}
	return errors.ErrKBStorage.WithCause(err).WithMessage(op)
}

// MongoItems 基于 MongoDB 的条目存储。
type MongoItems struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoItems 创建条目存储。
func NewMongoItems(db *mongo.Database) *MongoItems {
	return &MongoItems{coll: db.Collection(CollectionItems), now: time.Now}
}

func (s *MongoItems) Create(ctx context.Context, item *model.ContentItem) error {
	_, err := s.coll.InsertOne(ctx, item)
	if mongo.IsDuplicateKeyError(err) {
		return errors.ErrKBInvalidRequest.WithMessagef("item %s already exists", item.ID)
	}
	return storageErr(err, "insert item")
}

func (s *MongoItems) Get(ctx context.Context, id string) (*model.ContentItem, error) {
	var item model.ContentItem
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrKBItemNotFound
	}
	if err != nil {
		return nil, storageErr(err, "find item")
	}
	return &item, nil
}

func (s *MongoItems) GetMany(ctx context.Context, ids []string) (map[string]*model.ContentItem, error) {
	out := make(map[string]*model.ContentItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, storageErr(err, "find items")
	}
	var items []*model.ContentItem
	if err := cur.All(ctx, &items); err != nil {
		return nil, storageErr(err, "decode items")
	}
	for _, it := range items {
		out[it.ID] = it
	}
	return out, nil
}

func listFilter(f model.ItemFilter) bson.M {
	filter := bson.M{}
	if f.TenantID != "" {
		filter["tenant_id"] = f.TenantID
	}
	if f.AgentID != "" {
		filter["agent_ids"] = f.AgentID
	}
	if f.BrandID != "" {
		filter["brand_ids"] = f.BrandID
	}
	if f.ContentType != "" {
		filter["content_type"] = f.ContentType
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	return filter
}

func (s *MongoItems) List(ctx context.Context, f model.ItemFilter) ([]*model.ContentItem, int64, error) {
	filter := listFilter(f)
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, storageErr(err, "count items")
	}

	opts := mongoopts.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(f.Offset)).
		// 列表不返回全文
		SetProjection(bson.M{"text": 0})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, storageErr(err, "list items")
	}
	items := []*model.ContentItem{}
	if err := cur.All(ctx, &items); err != nil {
		return nil, 0, storageErr(err, "decode items")
	}
	return items, total, nil
}

func (s *MongoItems) Update(ctx context.Context, item *model.ContentItem) error {
	item.UpdatedAt = s.now()
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": item.ID}, item)
	if err != nil {
		return storageErr(err, "replace item")
	}
	if res.MatchedCount == 0 {
		return errors.ErrKBItemNotFound
	}
	return nil
}

func (s *MongoItems) BeginIngestion(ctx context.Context, id, jobID string) (*model.ContentItem, error) {
	update := bson.M{
		"$set": bson.M{
			"status":     model.StatusProcessing,
			"job_id":     jobID,
			"updated_at": s.now(),
		},
		"$unset": bson.M{"error": ""},
	}
	var item model.ContentItem
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After),
	).Decode(&item)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrKBItemNotFound
	}
	if err != nil {
		return nil, storageErr(err, "begin ingestion")
	}
	return &item, nil
}

// CompleteIngestion 以 status 和 job_id 为条件更新，保证旧任务不会覆盖新任务的结果。
func (s *MongoItems) CompleteIngestion(ctx context.Context, id, jobID string, c Completion) error {
	filter := bson.M{"_id": id, "status": model.StatusProcessing, "job_id": jobID}
	set := bson.M{
		"status":             model.StatusCompleted,
		"active_generation":  c.Generation,
		"text":               c.Text,
		"stats":              c.Stats,
		"embedding_provider": c.Provider,
		"embedding_model":    c.Model,
		"dimension":          c.Dimension,
		"updated_at":         s.now(),
	}
	if c.Title != "" {
		set["title"] = c.Title
	}
	for k, v := range c.Metadata {
		set["metadata."+k] = v
	}
	update := bson.M{
		"$set":   set,
		"$unset": bson.M{"job_id": "", "error": ""},
	}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return storageErr(err, "complete ingestion")
	}
	if res.MatchedCount == 0 {
		return errors.ErrKBStaleIngestion
	}
	return nil
}

func (s *MongoItems) FailIngestion(ctx context.Context, id, jobID, message string, stats model.IngestionStats) error {
	now := s.now()
	update := bson.M{
		"$set": bson.M{
			"status":                  model.StatusFailed,
			"error":                   message,
			"stats.failed_at":         now,
			"stats.sources_attempted": stats.SourcesAttempted,
			"stats.sources_failed":    stats.SourcesFailed,
			"updated_at":              now,
		},
		"$unset": bson.M{"job_id": ""},
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "job_id": jobID}, update)
	if err != nil {
		return storageErr(err, "fail ingestion")
	}
	if res.MatchedCount == 0 {
		return errors.ErrKBStaleIngestion
	}
	return nil
}

func (s *MongoItems) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return storageErr(err, "delete item")
	}
	if res.DeletedCount == 0 {
		return errors.ErrKBItemNotFound
	}
	return nil
}

// textHit 携带 $meta 文本分数的解码结构。
type textHit struct {
	model.ContentItem `bson:",inline"`
	Score             float64 `bson:"score"`
}

// TextSearch 使用 $text 索引检索，按 textScore 降序。
func (s *MongoItems) TextSearch(ctx context.Context, q TextQuery) ([]TextHit, error) {
	filter := bson.M{
		"$text":     bson.M{"$search": q.Query},
		"tenant_id": q.TenantID,
		// 失败或进行中的重新入库不影响上一代次的可检索性
		"active_generation": bson.M{"$exists": true, "$ne": ""},
	}
	if len(q.ContentTypes) > 0 {
		filter["content_type"] = bson.M{"$in": q.ContentTypes}
	}
	if len(q.AgentIDs) > 0 {
		filter["agent_ids"] = bson.M{"$in": q.AgentIDs}
	}
	if len(q.BrandIDs) > 0 {
		filter["brand_ids"] = bson.M{"$in": q.BrandIDs}
	}

	score := bson.M{"$meta": "textScore"}
	opts := mongoopts.Find().
		SetProjection(bson.M{"score": score}).
		SetSort(bson.D{{Key: "score", Value: score}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storageErr(err, "text search")
	}
	var docs []textHit
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storageErr(err, "decode text search")
	}
	hits := make([]TextHit, 0, len(docs))
	for i := range docs {
		item := docs[i].ContentItem
		hits = append(hits, TextHit{Item: &item, Score: docs[i].Score})
	}
	return hits, nil
}

// MongoSessions 基于 MongoDB 的会话存储。
type MongoSessions struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoSessions 创建会话存储。
func NewMongoSessions(db *mongo.Database) *MongoSessions {
	return &MongoSessions{coll: db.Collection(CollectionSessions), now: time.Now}
}

func (m *MongoSessions) Create(ctx context.Context, s *model.ChatSession) error {
	if s.Turns == nil {
		s.Turns = []model.Turn{}
	}
	_, err := m.coll.InsertOne(ctx, s)
	return storageErr(err, "insert session")
}

func (m *MongoSessions) Get(ctx context.Context, id string) (*model.ChatSession, error) {
	var s model.ChatSession
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrKBSessionNotFound
	}
	if err != nil {
		return nil, storageErr(err, "find session")
	}
	return &s, nil
}

func (m *MongoSessions) AppendTurns(ctx context.Context, id string, turns ...model.Turn) error {
	update := bson.M{
		"$push": bson.M{"turns": bson.M{"$each": turns}},
		"$set":  bson.M{"updated_at": m.now()},
	}
	res, err := m.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return storageErr(err, "append turns")
	}
	if res.MatchedCount == 0 {
		return errors.ErrKBSessionNotFound
	}
	return nil
}

func (m *MongoSessions) ClearHistory(ctx context.Context, id string) error {
	update := bson.M{"$set": bson.M{"turns": []model.Turn{}, "updated_at": m.now()}}
	res, err := m.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return storageErr(err, "clear history")
	}
	if res.MatchedCount == 0 {
		return errors.ErrKBSessionNotFound
	}
	return nil
}

// MongoAgents 基于 MongoDB 的 agent 目录。
type MongoAgents struct {
	coll *mongo.Collection
}

// NewMongoAgents 创建 agent 目录。
func NewMongoAgents(db *mongo.Database) *MongoAgents {
	return &MongoAgents{coll: db.Collection(CollectionAgents)}
}

func (m *MongoAgents) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	var a model.Agent
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrKBAgentNotFound
	}
	if err != nil {
		return nil, storageErr(err, "find agent")
	}
	return &a, nil
}

func (m *MongoAgents) PutAgent(ctx context.Context, a *model.Agent) error {
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": a.ID}, a, mongoopts.Replace().SetUpsert(true))
	return storageErr(err, "upsert agent")
}

var (
	_ ItemStore      = (*MongoItems)(nil)
	_ SessionStore   = (*MongoSessions)(nil)
	_ AgentDirectory = (*MongoAgents)(nil)
)
