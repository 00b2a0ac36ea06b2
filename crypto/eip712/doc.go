// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

/*
Package eip712 builds and signs the typed-data messages that authorize machine
station calls.

Two domains exist. Factory-domain messages are verified by the
MachineStationFactory contract; machine-domain messages are verified by the
MachineSmartAccount itself. Both use version "1" and bind the chain id.

	Schema                      Domain                 Signer
	DeployMachineSmartAccount   MachineStationFactory  owner
	ExecuteTransaction          MachineStationFactory  owner
	ExecuteMachineTransaction   MachineStationFactory  owner
	Execute                     MachineSmartAccount    machine owner

Field order and types are part of the contract's type hash and must not be
changed.
*/
package eip712
