// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

/*
Package station implements the machine station relay protocol: a sponsoring
owner account pays gas for, and is the only submitter of, calls authorized by
EIP-712 signatures of the owner and optionally of a machine owner.

# Architecture

The system consists of four components:

 1. Relay - Packs a signed CallEnvelope into a MachineStationFactory call,
    sends it from the owner account, waits for the receipt and classifies
    failures.

 2. Sponsor - The owner principal. Signs factory-domain messages and the
    relayed transactions, and accounts for the gas it paid.

 3. ErrorDecoder - Turns opaque revert data into a named custom error,
    Error(string) or Panic(uint256), and never fails itself.

 4. Station - The SDK entry point running the orchestrated operations.

# Operation Flow

	Caller invokes an operation
	    → nonce assigned for (owner, factory)
	        → one or two typed-data signatures
	            → target calldata and factory call encoded
	                → Relay.Submit:
	                    1. Validate envelope signatures
	                    2. Estimate gas (reverts surface here)
	                    3. Sign EIP-1559 tx with the owner key
	                    4. Send and poll for the receipt
	                    5. On failed status, replay the call for revert data

No operation retries. Every failure is logged once and returned.

# Operations

  - DeploySmartAccount: owner signs DeployMachineSmartAccount, the deployed
    address is read from the MachineSmartAccountDeployed event
  - ExecuteTransaction: owner signs ExecuteTransaction
  - ExecuteMachineTransaction: machine owner signs Execute over the machine
    domain, owner signs ExecuteMachineTransaction over the factory domain
  - AddAttribute: DID attribute on the identity precompile
  - StoreData: item record on the storage precompile
*/
package station
