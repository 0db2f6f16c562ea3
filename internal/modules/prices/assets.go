package prices

// NativeSTX is the pseudo contract id used for the chain's native token.
const NativeSTX = "stx"

// geckoIDs maps tracked asset contract ids to their CoinGecko listing ids.
// Wrapped and pegged assets track the price of the underlying; that is the
// convention the portfolio views expect.
var geckoIDs = map[string]string{
	NativeSTX: "blockstack",

	// sBTC and the older pegged bitcoin variants track BTC.
	"SM3VDXK3WZZSA84XXFKAFAF15NNZX32CTSG82JFQ4.sbtc-token":       "bitcoin",
	"SP3DX3H4FEYZJZ586MFBS25ZW3HZDMEW92260R2PR.Wrapped-Bitcoin":  "wrapped-bitcoin",
	"SP3K8BC0PPEVCV7NZ6QSRWPQ2JE9E5B6N3PA0KBR9.token-abtc":       "bitcoin",
	"SP2XD7417HGPRTREMKF748VNEQPDRR0RMANB7X1NK.token-abtc":       "bitcoin",

	// Stablecoins.
	"SP3Y2ZSH8P7D50B0VBTSX11S7XSG24M1VB9YFQA4K.token-aeusdc":     "usd-coin",
	"SP2XD7417HGPRTREMKF748VNEQPDRR0RMANB7X1NK.token-susdt":      "tether",

	// DeFi governance tokens with their own listings.
	"SP102V8P0F7JX67ARQ77WEA3D3CFB5XW39REDT0AM.token-alex":       "alexgo",
	"SP2C2YFP12AJZB4MABJBAJ55XECVS7E4PMMZ89YZR.arkadiko-token":   "arkadiko",
	"SP1Z92MPDQEWZXW36VX71Q25HKF5K2EPCJ304F275.tokensoft-token":  "stackswap",
	"SP4SZE494VC2YC5JYG7AYFQ44F5Q4PYV7DVMDPBG.ststx-token":       "stacked-stx",
}

// GeckoID resolves a contract id to its CoinGecko id.
func GeckoID(contractID string) (string, bool) {
	id, ok := geckoIDs[contractID]
	return id, ok
}

// TrackedAssets returns all contract ids with a known price source.
// The refresh job warms the cache for exactly this set.
func TrackedAssets() []string {
	out := make([]string, 0, len(geckoIDs))
	for contractID := range geckoIDs {
		out = append(out, contractID)
	}
	return out
}
