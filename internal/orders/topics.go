package orders

// TopicOrderEvents carries every order lifecycle event, keyed by order id so
// the events of one order stay on one partition.
const TopicOrderEvents = "order.events"
