// Package adapter implements the probes that feed observations into the
// reconciliation engine.
//
// A Probe runs against one Target (a machine, domain or service already in
// the graph) and reports what it finds to a Sink. Probes never write to the
// graph directly; every finding goes through Sink.Reconcile so identity
// matching and merging stay in one place.
//
// # Probes
//
// NmapProbe port scans a machine in two passes: discovery, then service
// detection with the default NSE scripts on the open ports. Script output
// becomes service notes titled "<script-id> (nmap)".
//
// ConnectScanProbe is a TCP connect scanner with banner grabbing for hosts
// where nmap cannot run.
//
// DNSRecordsProbe records NS, MX and TXT records as domain notes and
// optionally tries a zone transfer. Name servers and mail exchangers are fed
// back through Sink.AddTarget.
//
// SSHLoginProbe tries the known username and password pairs against SSH
// services and records the accepted ones.
//
// # Registry
//
// Registry runs probes as jobs, each recorded as a Job row that moves from
// RUNNING to DONE or FAILED. Jobs run concurrently up to a fixed limit and a
// failing job never affects the others.
package adapter
