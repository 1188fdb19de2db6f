package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jensholdgaard/lotmarket/internal/eligibility"
	"github.com/jensholdgaard/lotmarket/internal/revenue"
)

// JSONB column wrappers. Each type serializes as a JSON array so the lists
// ride along with their parent row instead of needing join tables.

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("scanning jsonb: unsupported source %T", src)
	}
}

type groupsColumn []eligibility.Group

func (g groupsColumn) Value() (driver.Value, error) { return json.Marshal([]eligibility.Group(g)) }
func (g *groupsColumn) Scan(src any) error          { return scanJSON(src, (*[]eligibility.Group)(g)) }

type sharesColumn []revenue.Share

func (s sharesColumn) Value() (driver.Value, error) { return json.Marshal([]revenue.Share(s)) }
func (s *sharesColumn) Scan(src any) error          { return scanJSON(src, (*[]revenue.Share)(s)) }

type u64Column []uint64

func (u u64Column) Value() (driver.Value, error) { return json.Marshal([]uint64(u)) }
func (u *u64Column) Scan(src any) error          { return scanJSON(src, (*[]uint64)(u)) }

type uuidsColumn []uuid.UUID

func (u uuidsColumn) Value() (driver.Value, error) { return json.Marshal([]uuid.UUID(u)) }
func (u *uuidsColumn) Scan(src any) error          { return scanJSON(src, (*[]uuid.UUID)(u)) }
