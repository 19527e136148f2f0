package settings

import (
	"slices"
	"strings"
)

// EEA member states (EU plus Iceland, Liechtenstein, Norway).
var eeaCountries = map[string]struct{}{
	"AT": {}, "BE": {}, "BG": {}, "HR": {}, "CY": {}, "CZ": {}, "DK": {}, "EE": {}, "FI": {}, "FR": {},
	"DE": {}, "GR": {}, "HU": {}, "IE": {}, "IT": {}, "LV": {}, "LT": {}, "LU": {}, "MT": {}, "NL": {},
	"PL": {}, "PT": {}, "RO": {}, "SK": {}, "SI": {}, "ES": {}, "SE": {}, "IS": {}, "LI": {}, "NO": {},
}

// IsEEACountry reports whether the ISO 3166-1 alpha-2 code is an EEA member.
// Greece is accepted as both GR and EL.
func IsEEACountry(country string) bool {
	code := strings.ToUpper(strings.TrimSpace(country))
	if code == "EL" {
		code = "GR"
	}
	_, ok := eeaCountries[code]
	return ok
}

// AvailabilityInput describes the checkout being offered the gateway.
type AvailabilityInput struct {
	StoreCountry    string
	Virtual         bool
	ShippingMethods []string
}

// Reasons returned by Availability.
const (
	ReasonDisabled        = "disabled"
	ReasonNotConfigured   = "not_configured"
	ReasonOutsideEEA      = "store_outside_eea"
	ReasonVirtualDisabled = "virtual_orders_disabled"
	ReasonShippingMethod  = "shipping_method_not_enabled"
)

// Availability decides whether the gateway may be offered. The second value
// names the first failing rule.
func Availability(cfg Configuration, g Gateway, in AvailabilityInput) (bool, string) {
	if !g.Enabled {
		return false, ReasonDisabled
	}
	if !cfg.Configured() {
		return false, ReasonNotConfigured
	}
	if !IsEEACountry(in.StoreCountry) {
		return false, ReasonOutsideEEA
	}
	if in.Virtual && !g.EnableForVirtual {
		return false, ReasonVirtualDisabled
	}
	if len(g.EnableForMethods) > 0 && !in.Virtual {
		matched := false
		for _, method := range in.ShippingMethods {
			if slices.Contains(g.EnableForMethods, methodID(method)) || slices.Contains(g.EnableForMethods, method) {
				matched = true
				break
			}
		}
		if !matched {
			return false, ReasonShippingMethod
		}
	}
	return true, ""
}

// methodID strips an instance suffix: "flat_rate:3" -> "flat_rate".
func methodID(method string) string {
	method = strings.TrimSpace(method)
	if i := strings.IndexByte(method, ':'); i > 0 {
		return method[:i]
	}
	return method
}
