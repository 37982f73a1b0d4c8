package billingevent

import (
	"database/sql/driver"

	"github.com/lib/pq"
)

// StringArray is a text[] column
type StringArray []string

func (a *StringArray) Scan(value interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(value); err != nil {
		return err
	}
	*a = StringArray(arr)
	return nil
}

func (a StringArray) Value() (driver.Value, error) {
	return pq.StringArray(a).Value()
}
