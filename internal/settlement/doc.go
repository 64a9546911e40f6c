// Package settlement houses blockchain connectivity for the execution
// pipeline: the chain client abstraction, EVM implementations, and the
// provider registry that maps chain names to live clients. Workers use it
// to deploy wallets, broadcast transfers and swaps, and read balances
// without depending on a concrete network.
package settlement
