// Package testutil provides in-memory fakes shared by the package tests.
//
// FakeRuntime stands in for a container engine. Containers run a Script that
// decides what they print, whether they exit on their own and with which
// code. Stop and remove requests can be made to lag behind the listing, which
// is how a real engine behaves under load.
package testutil
