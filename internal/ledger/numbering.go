package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// voucherNumber produces a {TYPE}-{YYYYMMDD}-{rand} identifier. The
// random suffix keeps numbers unguessable; the unique index on the
// vouchers table backs uniqueness, with a retry on collision.
func voucherNumber(t VoucherType, date time.Time) string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s-%s", t, date.Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))
}
