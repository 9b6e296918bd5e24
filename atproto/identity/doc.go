/*
Package identity provides routines for resolving atproto handles and DIDs from the network.

Handle resolution tries a DNS TXT record first and falls back to the HTTPS well-known endpoint. DID resolution supports the did:plc method, fetching the DID document from a PLC directory and exposing the account's declared service endpoints.

Resolution is performed fresh on every call; there is no caching layer. Callers which need caching should wrap the Resolver themselves.
*/
package identity
