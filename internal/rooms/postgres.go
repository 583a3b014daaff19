package rooms

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads room attributes from the room_attributes table
// (see migrations/000001_room_attributes.up.sql).
type PostgresSource struct {
	db *pgxpool.Pool
}

func NewPostgresSource(db *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{db: db}
}

type attributeRow struct {
	Room      string
	Attribute string
	Text      *string
	Number    *float64
}

func (s *PostgresSource) Load(ctx context.Context, facility string) (*Dataset, error) {
	rows, err := s.db.Query(ctx, `
		SELECT room_name, attribute, text_value, number_value
		FROM room_attributes
		WHERE facility_id = $1
		ORDER BY position, room_name, attribute
	`, facility)
	if err != nil {
		return nil, fmt.Errorf("query room_attributes: %w", err)
	}
	defer rows.Close()

	var collected []attributeRow
	for rows.Next() {
		var r attributeRow
		if err := rows.Scan(&r.Room, &r.Attribute, &r.Text, &r.Number); err != nil {
			return nil, fmt.Errorf("scan room_attributes: %w", err)
		}
		collected = append(collected, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read room_attributes: %w", err)
	}
	if len(collected) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFacilityNotFound, facility)
	}
	return assemble(collected), nil
}

// assemble groups attribute rows into rooms in order of first appearance. A row with
// neither a text nor a finite number value leaves the attribute absent.
func assemble(rows []attributeRow) *Dataset {
	ds := NewDataset()
	for _, r := range rows {
		rec, ok := ds.records[r.Room]
		if !ok {
			// Add cannot fail here: the name is new and non-empty rows come from a NOT NULL column.
			_ = ds.Add(r.Room, Attributes{})
			rec = ds.records[r.Room]
		}
		if r.Attribute == "" {
			continue
		}
		switch {
		case r.Number != nil:
			// double precision admits NaN and Infinity; such values stay absent.
			if v := Number(*r.Number); v.finite() {
				rec.Attributes[r.Attribute] = v
			}
		case r.Text != nil:
			rec.Attributes[r.Attribute] = String(*r.Text)
		}
	}
	return ds
}
