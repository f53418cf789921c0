// Package reflex evolves populations of reflex controllers: small fixed-topology
// node networks that decide, once per tick, whether an agent should flap.
//
// The networks are not trained by gradient descent. After every agent of a
// generation has died, the population is rebuilt by a genetic algorithm:
// the best genomes are carried over unchanged, a mating pool is filled by
// fitness-proportionate selection, and children are bred with a sign-aware
// blending crossover followed by nudge-or-reset mutation. Generations are
// persisted as JSON records so a run can resume where it stopped, even from
// partial data.
//
// Basic usage:
//
//	config, err := reflex.LoadConfig("configs/flappy.ini")
//	if err != nil {
//		log.Fatalf("Error loading config: %v", err)
//	}
//
//	store, err := reflex.OpenStore(config)
//	if err != nil {
//		log.Fatalf("Error opening store: %v", err)
//	}
//	defer store.Close()
//
//	rng := rand.New(rand.NewSource(config.Population.Seed))
//	pop, err := store.Resume(rng)
//	if err != nil {
//		log.Fatalf("Error resuming population: %v", err)
//	}
//
//	ctrl := reflex.NewController(config.Controller, pop.Networks())
//	for !allDead(agents) {
//		ctrl.Tick(agents)
//		// advance the environment, record scores ...
//	}
//
//	pop.FinalizeAll()
//	if err := store.Export(pop); err != nil {
//		log.Printf("export failed: %v", err)
//	}
//	pop, err = store.Advance(pop)
package reflex
