// Package attrstore implements a Postgres-backed expr.AttributeBroker: the
// Policy Information Point a PDP deployment consults for attributes that
// aren't present on the subscription itself (spec.md §4.2.3, §9 "Reactive
// attribute streams"). It generalizes the teacher's GORM CRUD shape
// (storage/postgresql_storage.go, storage/database.go) from fixed ABAC
// tables to a single attribute key/value table, polled so every finder
// behaves like a reactive stream even though Postgres itself has no
// native change feed here.
package attrstore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/pdplog"
	"github.com/dotrongnhan/saplgo/value"
)

// DefaultPollInterval is how often a subscribed stream re-checks its row
// for a new value when the caller doesn't specify one.
const DefaultPollInterval = 2 * time.Second

// AttributeRow is the GORM model backing the store: one row per
// (entityKey, name) attribute value (spec.md §4.2.3's "<prefix>.name(args)"
// invocations, keyed by the entity they were resolved against).
type AttributeRow struct {
	ID        uint   `gorm:"primaryKey"`
	EntityKey string `gorm:"uniqueIndex:idx_attr_entity_name;size:512"`
	Name      string `gorm:"uniqueIndex:idx_attr_entity_name;size:256"`
	ValueJSON string `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (AttributeRow) TableName() string { return "pdp_attribute_values" }

// Store is a Postgres-backed expr.AttributeBroker. Every Resolve call is
// answered, regardless of whether a row currently exists for the entity/
// name pair: an absent row resolves to value.UNDEFINED, matching how a PIP
// with no opinion about an attribute should behave (spec.md §4.2.3).
type Store struct {
	db           *gorm.DB
	log          *pdplog.Logger
	pollInterval time.Duration
}

// NewStore opens the attribute table (migrating it if necessary) against
// an existing gorm connection.
func NewStore(db *gorm.DB, pollInterval time.Duration) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("attrstore: db is nil")
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if err := db.AutoMigrate(&AttributeRow{}); err != nil {
		return nil, fmt.Errorf("attrstore: migrate: %w", err)
	}
	return &Store{db: db, log: pdplog.New("attrstore"), pollInterval: pollInterval}, nil
}

// Resolve implements expr.AttributeBroker.
func (s *Store) Resolve(name string, entity value.Value, args []value.Value) (expr.AttributeStream, bool) {
	return &dbStream{store: s, name: name, entityKey: entityKeyOf(entity)}, true
}

// Set upserts the current value for one (entityKey, name) attribute. It is
// the write side of the store: the directory/bundle/remote sources publish
// policy documents, this publishes the attribute data those documents read.
func (s *Store) Set(entityKey, name string, v value.Value) error {
	raw, err := value.ToJSON(v)
	if err != nil {
		return fmt.Errorf("attrstore: encode value: %w", err)
	}
	row := AttributeRow{EntityKey: entityKey, Name: name, ValueJSON: string(raw)}
	result := s.db.
		Where(AttributeRow{EntityKey: entityKey, Name: name}).
		Assign(AttributeRow{ValueJSON: string(raw)}).
		FirstOrCreate(&row)
	if result.Error != nil {
		return fmt.Errorf("attrstore: upsert %s/%s: %w", entityKey, name, result.Error)
	}
	return nil
}

// Delete removes a stored attribute value, so future resolves observe
// value.UNDEFINED again.
func (s *Store) Delete(entityKey, name string) error {
	result := s.db.Where("entity_key = ? AND name = ?", entityKey, name).Delete(&AttributeRow{})
	if result.Error != nil {
		return fmt.Errorf("attrstore: delete %s/%s: %w", entityKey, name, result.Error)
	}
	return nil
}

// load fetches the current value for (entityKey, name), returning
// value.UNDEFINED with a nil error when no row exists (absence is not an
// error: it is the normal "this PIP has no opinion" case).
func (s *Store) load(entityKey, name string) (value.Value, error) {
	var row AttributeRow
	result := s.db.Where("entity_key = ? AND name = ?", entityKey, name).Take(&row)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return value.UNDEFINED, nil
		}
		return value.Value{}, fmt.Errorf("attrstore: load %s/%s: %w", entityKey, name, result.Error)
	}
	return value.FromJSON([]byte(row.ValueJSON))
}

// entityKeyOf derives a stable string key for an entity value. Entities
// that carry an "id" field key on that; everything else keys on its JSON
// rendering so structurally equal entities share a row.
func entityKeyOf(entity value.Value) string {
	if entity.IsObject() {
		if id := entity.Get("id"); id.IsText() {
			s, _ := id.String()
			return s
		}
	}
	if entity.IsText() {
		s, _ := entity.String()
		return s
	}
	raw, err := value.ToJSON(entity)
	if err != nil {
		return ""
	}
	return string(raw)
}
