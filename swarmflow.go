// Package swarmflow is a multi-agent collaboration core: agents with
// capability sets and mailboxes, supervisor/worker delegation, a
// dependency-aware task scheduler, topic pub/sub and direct messaging,
// and consensus primitives (voting, value convergence, leader election).
//
// The library is in-process: it defines no wire protocol of its own.
// Embedders supply task handlers and wire the pieces together:
//
//	reg := agent.NewRegistry(agent.DefaultRegistryConfig(), logger)
//	w := agent.NewWorkerAgent(agent.WorkerConfig{
//		AgentConfig: agent.AgentConfig{Name: "worker-1"},
//	}, logger)
//	w.RegisterHandler("compile", compileHandler)
//	reg.Register(w)
//
//	sup := agent.NewSupervisorAgent(agent.DefaultSupervisorConfig(), logger)
//	sup.AddWorker(w)
//	result := sup.Delegate(ctx, agent.NewTask("build", "compile"))
package swarmflow

// Version is the library version.
const Version = "0.3.0"
