package auction

import "math/big"

// Gas cost estimates per escrow operation, used to price the gas surcharge
// into quotes. Values are conservative upper bounds observed on mainnet-like
// networks.
const (
	GasCreateEscrow = 180_000
	GasWithdraw     = 95_000
	GasRefund       = 70_000

	gasPerCalldataByte = 16
)

// Calldata sizes of the two settlement transactions: createDstEscrow packs
// four words behind the selector, withdraw a single word.
const (
	calldataCreateEscrow = 4 + 4*32
	calldataWithdraw     = 4 + 32
)

// EstimateGasFee returns the wei cost of an operation: the base gas for the
// operation plus calldata gas, times the estimated gas price.
func EstimateGasFee(opGas uint64, calldataBytes int, gasPrice *big.Int) *big.Int {
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		return new(big.Int)
	}
	total := new(big.Int).SetUint64(opGas + uint64(calldataBytes)*gasPerCalldataByte)
	return total.Mul(total, gasPrice)
}

// SettlementGasFee prices the relayer's transactions for one swap: locking the
// destination escrow and withdrawing the source with the revealed secret.
// Quoted additively next to the rate bump, never folded into it.
func SettlementGasFee(gasPrice *big.Int) *big.Int {
	fee := EstimateGasFee(GasCreateEscrow, calldataCreateEscrow, gasPrice)
	return fee.Add(fee, EstimateGasFee(GasWithdraw, calldataWithdraw, gasPrice))
}
