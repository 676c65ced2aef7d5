/*
Package alleledb builds the variant knowledge base: one ordered on-disk map
from every known allele to the consolidated properties all upstream
sources report for it.

We implement:

1. Stores, each a single Bolt file mapping AlleleKey to values of one kind.

2. An indexer that turns one source's record stream into a store under
bounded memory.

3. A merge engine that folds many per-source stores into one.

4. A compaction policy and a build orchestrator tying the steps together.

# Technical Details

**Buckets.**
A store has two buckets: “meta” holds the value kind name, the store format
and the store state; “data” holds the alleles.

**Store state.**
The state records whether the data was written since the last full
compaction and how many full compactions the file descends from. Per-source
stores that are clean can be reused by the next build.

**Merging values.**
Every value kind knows how to merge two values for the same allele. Fields
populated on only one side are kept; a populated field is never replaced by
an empty one. When both sides populate a field differently, the later
source wins and the conflict is reported.

## Binary encoding

**Key encoding**, order-preserving:
1. Chromosome (1 byte, 1-25).
2. Position (4 bytes, big endian).
3. Reference allele, a 0x00 separator, then the alternate allele.

**Value header**:
1. Flags (uvarint).
2. Kind format version (uvarint).
3. Data size (uvarint).

**Value data**: msgpack of the value struct, with map keys sorted.
*/
package alleledb
