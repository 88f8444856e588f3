// Command courierctl is the administrative CLI: schema migration, realm and
// user provisioning, default streams, maintenance sweeps and event-log
// inspection and replay.
package main

func main() {
	Execute()
}
