// Package progress translates the engine's event stream into an overall
// percent complete for the upgrade.
//
// The transaction is split into three phases, each given a fixed share of the
// progress bar by a Budget: prepare (negligible in duration, but shown so the
// bar moves), install (roughly two thirds of the run) and erase (the
// remainder). Within the install and erase phases the share is divided evenly
// among the elements the build phase counted.
//
// State.Apply is the whole state machine. It is a pure function: the
// Translator owns the only State and applies each event to it as the engine
// calls back, reporting to the Notifier only when the percent actually grows.
package progress
