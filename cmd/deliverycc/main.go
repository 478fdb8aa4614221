// Delivery chaincode entry point. Deployed to each organization's peers
// and executed inside the Fabric endorsement environment.
package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/parceltrace/parceltrace/pkg/chaincode/delivery"
)

func main() {
	chaincode, err := contractapi.NewChaincode(&delivery.DeliveryContract{})
	if err != nil {
		log.Fatalf("Error creating delivery chaincode: %v", err)
	}

	if err := chaincode.Start(); err != nil {
		log.Fatalf("Error starting delivery chaincode: %v", err)
	}
}
