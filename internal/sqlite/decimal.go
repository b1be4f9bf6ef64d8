package sqlite

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
)

// decimal_cmp(a, b) compares two TEXT decimals exactly and returns -1, 0
// or 1. NULL on either side yields NULL.
func init() {
	if err := sqlite.RegisterDeterministicScalarFunction("decimal_cmp", 2, decimalCmp); err != nil {
		panic(fmt.Sprintf("register decimal_cmp: %v", err))
	}
}

func decimalCmp(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	a, err := toDecimal(args[0])
	if err != nil {
		return nil, err
	}
	b, err := toDecimal(args[1])
	if err != nil {
		return nil, err
	}
	return int64(a.Cmp(b)), nil
}

func toDecimal(v driver.Value) (decimal.Decimal, error) {
	switch x := v.(type) {
	case string:
		return decimal.NewFromString(x)
	case []byte:
		return decimal.NewFromString(string(x))
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("decimal_cmp: unsupported value %T", v)
	}
}
