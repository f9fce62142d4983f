package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RowID identifies a pool row: the raw table it came from and the row's
// stable key within that table. Its string form is "{tableId}:{rowKey}".
// Table ids are numeric, so parsing splits at the first colon and keys may
// themselves contain colons.
type RowID struct {
	TableID int64
	RowKey  string
}

// NewRowID builds the id of a raw row, falling back to the row index when
// the row has no key.
func NewRowID(tableID int64, rowKey string, rowIndex int) RowID {
	if rowKey == "" {
		rowKey = strconv.Itoa(rowIndex)
	}
	return RowID{TableID: tableID, RowKey: rowKey}
}

// IsZero reports whether the id is unset.
func (id RowID) IsZero() bool {
	return id.TableID == 0 && id.RowKey == ""
}

func (id RowID) String() string {
	if id.IsZero() {
		return ""
	}
	return strconv.FormatInt(id.TableID, 10) + ":" + id.RowKey
}

// ParseRowID parses the "{tableId}:{rowKey}" form.
func ParseRowID(s string) (RowID, error) {
	head, tail, ok := strings.Cut(s, ":")
	if !ok || tail == "" {
		return RowID{}, fmt.Errorf("row id %q: expected {tableId}:{rowKey}", s)
	}
	tableID, err := strconv.ParseInt(head, 10, 64)
	if err != nil || tableID <= 0 {
		return RowID{}, fmt.Errorf("row id %q: invalid table id", s)
	}
	return RowID{TableID: tableID, RowKey: tail}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (id RowID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *RowID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = RowID{}
		return nil
	}
	parsed, err := ParseRowID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
