package catalog

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type productDocument struct {
	ID          string `bson:"_id"`
	Name        string `bson:"name"`
	HasVariants bool   `bson:"has_variants"`
}

type variantDocument struct {
	ID        string `bson:"_id"`
	ProductID string `bson:"product_id"`
	Name      string `bson:"name"`
	SKU       string `bson:"sku"`
}

// MongoLookup читает коллекции products и product_variants каталога
type MongoLookup struct {
	products *mongo.Collection
	variants *mongo.Collection
}

// NewMongoLookup создаёт lookup поверх базы каталога
func NewMongoLookup(db *mongo.Database) *MongoLookup {
	return &MongoLookup{
		products: db.Collection("products"),
		variants: db.Collection("product_variants"),
	}
}

// GetProduct читает товар по _id
func (l *MongoLookup) GetProduct(ctx context.Context, productID string) (Product, error) {
	var doc productDocument
	err := l.products.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return Product{ID: doc.ID, Name: doc.Name, HasVariants: doc.HasVariants}, nil
}

// GetVariant читает вариант по _id
func (l *MongoLookup) GetVariant(ctx context.Context, variantID string) (Variant, error) {
	var doc variantDocument
	err := l.variants.FindOne(ctx, bson.M{"_id": variantID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Variant{}, ErrVariantNotFound
		}
		return Variant{}, err
	}
	return Variant{ID: doc.ID, ProductID: doc.ProductID, Name: doc.Name, SKU: doc.SKU}, nil
}
