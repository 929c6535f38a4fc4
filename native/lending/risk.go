package lending

import (
	"errors"
	"math/big"

	"riskengine/native/oracle"
)

var errMissingQuote = errors.New("lending risk: price set missing held asset")

// Assessment is the result of one pure health evaluation. Values are
// denominated in USD at the oracle price scale.
type Assessment struct {
	// CollateralUSD is the weighted collateral value.
	CollateralUSD *big.Int
	// DebtUSD is the unweighted debt value.
	DebtUSD *big.Int
	// HealthRatio is collateral over debt; nil when the account owes
	// nothing, which counts as healthy.
	HealthRatio *big.Rat
	// Liquidatable reports whether the ratio fell below the threshold.
	Liquidatable bool
}

// usdValue converts a unit balance to a USD value at the oracle price scale:
// units * price / 10^decimals.
func usdValue(units Units, price *big.Int, decimals uint8) *big.Int {
	if units.Sign() == 0 || price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	return mulDiv(units.value(), price, pow10(decimals))
}

// EvaluateAccount computes account health from the supplied pools, listings
// and a registry-built price set. It never mutates its inputs and iterates
// only the assets the account actually holds.
func EvaluateAccount(account *Account, pools map[string]*Pool, assets map[string]*Asset, prices *oracle.PriceSet, thresholdBps uint64) (Assessment, error) {
	out := Assessment{
		CollateralUSD: big.NewInt(0),
		DebtUSD:       big.NewInt(0),
	}
	if account == nil {
		return out, nil
	}
	for _, symbol := range account.HeldAssets() {
		pool, ok := pools[symbol]
		if !ok || pool == nil {
			return Assessment{}, ErrPoolNotFound
		}
		asset, ok := assets[symbol]
		if !ok || asset == nil {
			return Assessment{}, ErrAssetNotListed
		}
		quote, ok := prices.Quote(symbol)
		if !ok {
			return Assessment{}, errMissingQuote
		}
		price := quote.Price()

		if supply := account.SupplyBalance(symbol); !supply.IsZero() {
			value := usdValue(supply.ToUnits(pool.SupplyIndex), price, asset.Decimals)
			weighted := bpsShare(value, asset.CollateralWeightBps)
			out.CollateralUSD.Add(out.CollateralUSD, weighted)
		}
		if borrow := account.BorrowBalance(symbol); !borrow.IsZero() {
			value := usdValue(borrow.ToUnits(pool.BorrowIndex), price, asset.Decimals)
			out.DebtUSD.Add(out.DebtUSD, value)
		}
	}
	if out.DebtUSD.Sign() == 0 {
		return out, nil
	}
	out.HealthRatio = new(big.Rat).SetFrac(out.CollateralUSD, out.DebtUSD)
	threshold := new(big.Rat).SetFrac(new(big.Int).SetUint64(thresholdBps), basisPoints)
	out.Liquidatable = out.HealthRatio.Cmp(threshold) < 0
	return out, nil
}
