package alerts

import (
	"net/url"
	"regexp"
)

var (
	principalPattern = regexp.MustCompile(`^SP[0-9A-Z]{38,41}$|^SM[0-9A-Z]{38,41}$`)
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ValidateCondition checks a condition's type-specific requirements.
// Returns the empty slice when the condition is valid.
func ValidateCondition(c Condition) []string {
	var errs []string

	switch c.Type {
	case CondTokenTransfer:
		if c.Asset == "" {
			errs = append(errs, "asset is required")
		}
		switch c.Direction {
		case "sent", "received", "any":
		default:
			errs = append(errs, "direction must be sent, received, or any")
		}
		if c.AmountGTE != nil && !c.AmountGTE.IsPositive() {
			errs = append(errs, "amount_gte must be positive")
		}

	case CondContractCall:
		if c.ContractID == "" {
			errs = append(errs, "contract_id is required")
		}
		if c.FunctionName == "" {
			errs = append(errs, "function_name is required")
		}

	case CondWalletActivity:
		if c.WatchedAddress == "" {
			errs = append(errs, "watched_address is required")
		} else if !principalPattern.MatchString(c.WatchedAddress) {
			errs = append(errs, "watched_address must be a valid Stacks address")
		}

	case CondPriceThreshold:
		if c.Asset == "" {
			errs = append(errs, "asset is required")
		}
		switch c.Operator {
		case "gt", "lt", "gte", "lte":
		default:
			errs = append(errs, "operator must be gt, lt, gte, or lte")
		}
		if c.PriceUSD == nil || !c.PriceUSD.IsPositive() {
			errs = append(errs, "price_usd must be positive")
		}

	case CondStackingCycle:
		switch c.CycleEvent {
		case "start", "end":
		default:
			errs = append(errs, "event must be start or end")
		}

	case CondNFTSale:
		if c.PriceGTE != nil && !c.PriceGTE.IsPositive() {
			errs = append(errs, "price_gte must be positive")
		}

	default:
		errs = append(errs, "invalid condition type")
	}

	return errs
}

// ValidateNotification checks delivery channel configuration. At least
// one channel besides in-app must be set so a disabled UI session still
// reaches the user.
func ValidateNotification(n Notification) []string {
	var errs []string

	if n.Webhook == "" && n.Email == "" {
		errs = append(errs, "at least one notification method (webhook or email) is required")
	}
	if n.Webhook != "" && !isHTTPSURL(n.Webhook) {
		errs = append(errs, "webhook must be a valid HTTPS URL")
	}
	if n.Email != "" && !emailPattern.MatchString(n.Email) {
		errs = append(errs, "email must be a valid email address")
	}

	return errs
}

func isHTTPSURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Scheme == "https" && parsed.Host != ""
}
