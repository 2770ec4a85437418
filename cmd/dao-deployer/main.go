// Command dao-deployer deploys the HashStrat DAO contract set: the DAO
// token, its farm and the governance contract, then registers the pool LP
// tokens in the farm.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
