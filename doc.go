// Package harmonia is a hybrid music similarity engine. Tracks carry
// up to three modality vectors (low-level audio descriptors,
// high-level audio embeddings, lyric embeddings); the engine fuses
// them into fixed-width composites, indexes the composites in an
// in-memory HNSW graph and answers recommendation queries with an
// approximate search followed by an exact availability-aware re-rank.
//
// The top-level Engine wires the subpackages together:
//
//	engine, err := harmonia.New(
//		harmonia.WithLayout(layout),
//		harmonia.WithSnapshot("catalog.snapshot"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	_ = engine.Put(ctx, "track-1", model.ModalityLowLevelAudio, vec)
//
//	res, err := engine.Recommend(ctx, harmonia.Query{Seed: "track-1", K: 10})
//
// The subpackages (catalog, fusion, hnsw, distance, engine,
// persistence, blobstore) are usable on their own when finer control
// is needed.
package harmonia
