package market

import "fmt"

// Side 表示订单/成交方向，只有买、卖两种取值。
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Opposite 返回对手方向。
func (s Side) Opposite() Side {
	switch s {
	case Bid:
		return Ask
	case Ask:
		return Bid
	default:
		panic(fmt.Sprintf("market: invalid side %d", int(s)))
	}
}

// Sign 买为 +1，卖为 -1，用于仓位增减计算。
func (s Side) Sign() int64 {
	switch s {
	case Bid:
		return 1
	case Ask:
		return -1
	default:
		panic(fmt.Sprintf("market: invalid side %d", int(s)))
	}
}

// ParseSide 解析 "bid"/"buy" 与 "ask"/"sell"。
func ParseSide(v string) (Side, error) {
	switch v {
	case "bid", "BID", "buy", "BUY":
		return Bid, nil
	case "ask", "ASK", "sell", "SELL":
		return Ask, nil
	default:
		return 0, fmt.Errorf("unknown side %q", v)
	}
}

// MarshalText 让 Side 以字符串形式出现在 JSON 中。
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
