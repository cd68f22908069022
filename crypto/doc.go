/*
Package crypto provides the basis for secure communication between replicas of the set. Other
than making a proper TLS configuration for internal usage available, it also provides functions to
set up the needed internal PKI for secure and authenticated communication between replicas, used
by cmd/generate-pki.
*/
package crypto
