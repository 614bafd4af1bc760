// Package reservation provides workflow.Reserver implementations that hold a
// short-lived claim on a candidate while a run commits its assignment.
//
// RedisReserver coordinates several processes through one Redis instance:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	r := reservation.NewRedisReserver(client, reservation.Config{TTL: 30 * time.Second})
//
// LocalReserver does the same inside a single process.
//
// Both are re-entrant for the run that holds the claim, and both drop a
// claim once its TTL elapses so a crashed run cannot pin a candidate.
package reservation
