package models

import "time"

// AttributeType is the storage type of a catalog attribute.
type AttributeType string

const (
	AttrString     AttributeType = "STRING"
	AttrText       AttributeType = "TEXT"
	AttrBoolean    AttributeType = "BOOLEAN"
	AttrInteger    AttributeType = "INTEGER"
	AttrFloat      AttributeType = "FLOAT"
	AttrNumber     AttributeType = "NUMBER"
	AttrDate       AttributeType = "DATE"
	AttrURL        AttributeType = "URL"
	AttrEmail      AttributeType = "EMAIL"
	AttrPhone      AttributeType = "PHONE"
	AttrColor      AttributeType = "COLOR"
	AttrCurrency   AttributeType = "CURRENCY"
	AttrPercentage AttributeType = "PERCENTAGE"
	AttrArray      AttributeType = "ARRAY"
)

type Category struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Family struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Attribute struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	Name      string        `json:"name"`
	Type      AttributeType `json:"type"`
	CreatedAt time.Time     `json:"created_at"`
}

// AttributeValue binds a resolved attribute to its raw cell value for one product.
type AttributeValue struct {
	AttributeID string `json:"attribute_id"`
	Value       string `json:"value"`
}

// Product is the upsert payload keyed by (owner_id, sku).
type Product struct {
	ID          string           `json:"id"`
	OwnerID     string           `json:"owner_id"`
	SKU         string           `json:"sku"`
	Name        string           `json:"name"`
	ProductLink string           `json:"product_link,omitempty"`
	ImageURL    string           `json:"image_url,omitempty"`
	SubImages   []string         `json:"sub_images,omitempty"`
	CategoryID  *string          `json:"category_id,omitempty"`
	FamilyID    *string          `json:"family_id,omitempty"`
	Attributes  []AttributeValue `json:"attributes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
