package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shestoi/mimo-inventory/internal/repository"
)

const (
	inventoriesCollection  = "inventories"
	reservationsCollection = "reservations"
)

// InventoryDocument представляет документ в коллекции inventories
type InventoryDocument struct {
	ID               string    `bson:"_id"`
	ProductID        string    `bson:"product_id"`
	VariantID        string    `bson:"variant_id"`
	WarehouseID      string    `bson:"warehouse_id"`
	Quantity         int32     `bson:"quantity"`
	ReservedQuantity int32     `bson:"reserved_quantity"`
	LastUpdatedBy    string    `bson:"last_updated_by,omitempty"`
	Version          int64     `bson:"version"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

// ReservationDocument представляет документ в коллекции reservations
type ReservationDocument struct {
	ID          string    `bson:"_id"`
	InventoryID string    `bson:"inventory_id"`
	RequesterID string    `bson:"requester_id"`
	Quantity    int32     `bson:"quantity"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// Repository реализует InventoryRepository и ReservationRepository используя MongoDB.
// ApplyHold использует multi-document транзакцию, поэтому MongoDB должна работать как replica set.
type Repository struct {
	client       *mongo.Client
	db           *mongo.Database
	inventories  *mongo.Collection
	reservations *mongo.Collection
}

// NewRepository создаёт новый MongoDB репозиторий
func NewRepository(client *mongo.Client, dbName string) *Repository {
	db := client.Database(dbName)
	return &Repository{
		client:       client,
		db:           db,
		inventories:  db.Collection(inventoriesCollection),
		reservations: db.Collection(reservationsCollection),
	}
}

// EnsureIndexes создаёт уникальные индексы.
// Уникальный индекс на (product_id, variant_id, warehouse_id) - источник истины для
// "не больше одной записи на ключ", проверка в service слое только быстрый путь.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.inventories.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "product_id", Value: 1}, {Key: "variant_id", Value: 1}, {Key: "warehouse_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_product_variant_warehouse"),
		},
		{
			Keys:    bson.D{{Key: "quantity", Value: 1}},
			Options: options.Index().SetName("idx_quantity"),
		},
	})
	if err != nil {
		return fmt.Errorf("create inventory indexes: %w", err)
	}

	_, err = r.reservations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "inventory_id", Value: 1}, {Key: "requester_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_inventory_requester"),
		},
		{
			Keys:    bson.D{{Key: "requester_id", Value: 1}},
			Options: options.Index().SetName("idx_requester"),
		},
	})
	if err != nil {
		return fmt.Errorf("create reservation indexes: %w", err)
	}
	return nil
}

// Create вставляет новую запись; нарушение уникального индекса возвращается как ErrDuplicate
func (r *Repository) Create(ctx context.Context, inv repository.Inventory) error {
	if err := repository.CheckCounters(inv.Quantity, inv.ReservedQuantity); err != nil {
		return err
	}

	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	_, err := r.inventories.InsertOne(ctx, toInventoryDocument(inv))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return err
	}
	return nil
}

// GetByID получает запись по _id
func (r *Repository) GetByID(ctx context.Context, id string) (repository.Inventory, error) {
	return r.findOneInventory(ctx, bson.M{"_id": id})
}

// GetByKey получает запись по уникальному ключу
func (r *Repository) GetByKey(ctx context.Context, productID, variantID, warehouseID string) (repository.Inventory, error) {
	return r.findOneInventory(ctx, bson.M{
		"product_id":   productID,
		"variant_id":   variantID,
		"warehouse_id": warehouseID,
	})
}

// FindByProductAndVariant возвращает самую раннюю запись пары на любом складе
func (r *Repository) FindByProductAndVariant(ctx context.Context, productID, variantID string) (repository.Inventory, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return r.findOneInventory(ctx, bson.M{"product_id": productID, "variant_id": variantID}, opts)
}

// SetQuantity перезаписывает quantity одной атомарной операцией.
// Фильтр проверяет версию и reserved_quantity <= quantity на стороне MongoDB.
func (r *Repository) SetQuantity(ctx context.Context, id string, quantity int32, updatedBy string, expectedVersion int64) (repository.Inventory, error) {
	if quantity < 0 {
		return repository.Inventory{}, repository.ErrInvariantViolation
	}

	filter := bson.M{
		"_id":               id,
		"version":           expectedVersion,
		"reserved_quantity": bson.M{"$lte": quantity},
	}
	update := bson.M{
		"$set": bson.M{
			"quantity":        quantity,
			"last_updated_by": updatedBy,
			"updated_at":      time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc InventoryDocument
	err := r.inventories.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.Inventory{}, r.classifyMiss(ctx, id, expectedVersion)
		}
		return repository.Inventory{}, err
	}
	return doc.toDomain(), nil
}

// List возвращает все записи
func (r *Repository) List(ctx context.Context) ([]repository.Inventory, error) {
	return r.findInventories(ctx, bson.M{})
}

// ListLowQuantity возвращает записи с quantity <= threshold
func (r *Repository) ListLowQuantity(ctx context.Context, threshold int32) ([]repository.Inventory, error) {
	return r.findInventories(ctx, bson.M{"quantity": bson.M{"$lte": threshold}})
}

// ApplyHold применяет изменение счётчиков и резерва в одной транзакции.
// Условие в фильтре ($expr) вычисляется самой MongoDB, поэтому два параллельных
// резерва не могут вместе превысить quantity даже при устаревшем снимке в приложении.
func (r *Repository) ApplyHold(ctx context.Context, change repository.HoldChange) (repository.Inventory, error) {
	session, err := r.client.StartSession()
	if err != nil {
		return repository.Inventory{}, fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return r.applyHoldTx(sc, change)
	})
	if err != nil {
		return repository.Inventory{}, err
	}
	return result.(repository.Inventory), nil
}

func (r *Repository) applyHoldTx(sc mongo.SessionContext, change repository.HoldChange) (repository.Inventory, error) {
	now := time.Now().UTC()

	newQuantity := bson.M{"$add": bson.A{"$quantity", change.QuantityDelta}}
	newReserved := bson.M{"$add": bson.A{"$reserved_quantity", change.ReservedDelta}}
	filter := bson.M{
		"_id":     change.InventoryID,
		"version": change.ExpectedVersion,
		"$expr": bson.M{"$and": bson.A{
			bson.M{"$gte": bson.A{newQuantity, 0}},
			bson.M{"$gte": bson.A{newReserved, 0}},
			bson.M{"$lte": bson.A{newReserved, newQuantity}},
		}},
	}
	update := bson.M{
		"$inc": bson.M{
			"quantity":          change.QuantityDelta,
			"reserved_quantity": change.ReservedDelta,
			"version":           1,
		},
		"$set": bson.M{
			"last_updated_by": change.UpdatedBy,
			"updated_at":      now,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc InventoryDocument
	if err := r.inventories.FindOneAndUpdate(sc, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.Inventory{}, r.classifyMiss(sc, change.InventoryID, change.ExpectedVersion)
		}
		return repository.Inventory{}, err
	}

	resFilter := bson.M{"inventory_id": change.InventoryID, "requester_id": change.RequesterID}
	switch {
	case change.DeleteReservation:
		res, err := r.reservations.DeleteOne(sc, resFilter)
		if err != nil {
			return repository.Inventory{}, err
		}
		if res.DeletedCount == 0 {
			return repository.Inventory{}, repository.ErrNotFound
		}
	case change.Reservation != nil:
		resUpdate := bson.M{
			"$set": bson.M{
				"quantity":   change.Reservation.Quantity,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{
				"_id":        change.Reservation.ID,
				"created_at": now,
			},
		}
		if _, err := r.reservations.UpdateOne(sc, resFilter, resUpdate, options.Update().SetUpsert(true)); err != nil {
			return repository.Inventory{}, err
		}
	}

	return doc.toDomain(), nil
}

// Get получает резерв покупателя на запись
func (r *Repository) Get(ctx context.Context, inventoryID, requesterID string) (repository.Reservation, error) {
	var doc ReservationDocument
	err := r.reservations.FindOne(ctx, bson.M{"inventory_id": inventoryID, "requester_id": requesterID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.Reservation{}, repository.ErrNotFound
		}
		return repository.Reservation{}, err
	}
	return doc.toDomain(), nil
}

// ListByInventory возвращает резервы записи
func (r *Repository) ListByInventory(ctx context.Context, inventoryID string) ([]repository.Reservation, error) {
	return r.findReservations(ctx, bson.M{"inventory_id": inventoryID})
}

// ListByRequester возвращает резервы покупателя
func (r *Repository) ListByRequester(ctx context.Context, requesterID string) ([]repository.Reservation, error) {
	return r.findReservations(ctx, bson.M{"requester_id": requesterID})
}

// classifyMiss определяет, почему условный апдейт не нашёл документ:
// записи нет, версия изменилась или нарушен инвариант счётчиков
func (r *Repository) classifyMiss(ctx context.Context, id string, expectedVersion int64) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	return repository.ErrInvariantViolation
}

func (r *Repository) findOneInventory(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (repository.Inventory, error) {
	var doc InventoryDocument
	err := r.inventories.FindOne(ctx, filter, opts...).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.Inventory{}, repository.ErrNotFound
		}
		return repository.Inventory{}, err
	}
	return doc.toDomain(), nil
}

func (r *Repository) findInventories(ctx context.Context, filter bson.M) ([]repository.Inventory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.inventories.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []InventoryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]repository.Inventory, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (r *Repository) findReservations(ctx context.Context, filter bson.M) ([]repository.Reservation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.reservations.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []ReservationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]repository.Reservation, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func toInventoryDocument(inv repository.Inventory) InventoryDocument {
	return InventoryDocument{
		ID:               inv.ID,
		ProductID:        inv.ProductID,
		VariantID:        inv.VariantID,
		WarehouseID:      inv.WarehouseID,
		Quantity:         inv.Quantity,
		ReservedQuantity: inv.ReservedQuantity,
		LastUpdatedBy:    inv.LastUpdatedBy,
		Version:          inv.Version,
		CreatedAt:        inv.CreatedAt,
		UpdatedAt:        inv.UpdatedAt,
	}
}

func (d InventoryDocument) toDomain() repository.Inventory {
	return repository.Inventory{
		ID:               d.ID,
		ProductID:        d.ProductID,
		VariantID:        d.VariantID,
		WarehouseID:      d.WarehouseID,
		Quantity:         d.Quantity,
		ReservedQuantity: d.ReservedQuantity,
		LastUpdatedBy:    d.LastUpdatedBy,
		Version:          d.Version,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func (d ReservationDocument) toDomain() repository.Reservation {
	return repository.Reservation{
		ID:          d.ID,
		InventoryID: d.InventoryID,
		RequesterID: d.RequesterID,
		Quantity:    d.Quantity,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
