package column

import (
	"strconv"
	"time"

	"github.com/rusher/mariadb-go/wire"
)

func parseUint(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }
func parseInt(s string) (int64, error)   { return strconv.ParseInt(s, 10, 64) }
func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseTextDate(s string) (time.Time, bool, error) { return wire.ParseTextDate(s) }
func parseTextTime(s string) (time.Duration, error)   { return wire.ParseTextTime(s) }
