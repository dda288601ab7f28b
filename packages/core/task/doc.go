// Package task defines the collected test tree and its results.
//
// It provides:
//   - File, Suite and Test nodes with stable, position-derived IDs
//   - Result and ResultPack, the serializable outcome of a task
//   - Meta, a concurrency-safe JSON bag shared with reporters
//   - TestContext, the handle a test body uses to skip, fail softly,
//     register async assertions and read its fixtures
//
// IDs are derived from the file path, the project name and the sibling
// index of every node on the path from the file to the task, so
// collecting an unchanged file twice yields identical IDs. Inserting a
// sibling shifts the indices of the siblings after it.
package task
