/*
Package crdt implements the observed-removed set (ORSet) that every replica
of orset keeps as its state.

Each add event is stamped with a Tag made of the replica's name and a
per-replica counter that only ever grows. A remove retracts exactly the tags
the removing replica has observed at that moment, which gives the set its
add-wins behaviour: a concurrent add minted a tag the remover could not see,
so it survives. Merging two states is the union of their tagged elements and
is therefore commutative, associative and idempotent.

CAUTION! Consider these two requirements:
* Add and remove operations shipped between replicas are expected to be
  delivered in causal order, as provided by package comm. Full-state syncs
  go through Reconcile, which uses a causal Context to carry retractions.
* Access to the functions this package provides is expected to be synchronized
  explicitly by some outside measures, e.g. by wrapping calls to this package
  with a mutex lock if concurrent access is possible. This package does not(!)
  synchronize access by itself.

The ORSet is a practical derivation from the paper by Shapiro,
Preguiça, Baquero and Zawirski, available under:
https://hal.inria.fr/inria-00555588/document
*/
package crdt
